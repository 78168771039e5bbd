package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dialecticlabs/dialectic/internal/config"
	"github.com/dialecticlabs/dialectic/internal/dispatch"
	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/llm"
	"github.com/dialecticlabs/dialectic/internal/manifest"
	"github.com/dialecticlabs/dialectic/internal/queue"
	"github.com/dialecticlabs/dialectic/internal/scenario"
	"github.com/dialecticlabs/dialectic/internal/store"
)

// Queue names shared by the dispatcher, the worker pools, and the scorer's
// completion events.
const (
	queueDialogue  = "dialogue"
	queueScoring   = "scoring"
	queueCompleted = "completed"
)

// app bundles the storage and queue handles every subcommand wires from the
// same settings.
type app struct {
	settings *config.Settings
	logger   *slog.Logger

	store   *store.SQLite
	objects *store.DirObjects
	broker  *queue.SQLiteBroker

	dialogueQ  *queue.SQLiteQueue
	scoringQ   *queue.SQLiteQueue
	completedQ *queue.SQLiteQueue

	registry *scenario.Registry
}

func newApp() (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	st, err := store.OpenSQLite(settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	objects, err := store.NewDirObjects(settings.ObjectsDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}
	broker, err := queue.OpenSQLite(settings.QueuePath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open queue broker: %w", err)
	}

	return &app{
		settings:   settings,
		logger:     logger,
		store:      st,
		objects:    objects,
		broker:     broker,
		dialogueQ:  broker.Queue(queueDialogue, settings.MaxDeliveries),
		scoringQ:   broker.Queue(queueScoring, settings.MaxDeliveries),
		completedQ: broker.Queue(queueCompleted, settings.MaxDeliveries),
		registry:   scenario.Default(),
	}, nil
}

func (a *app) close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("closing queue broker", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// campaign resolves the campaign configuration: the file named by settings
// (or the --config flag that overrode it), falling back to the built-in
// default campaign.
func (a *app) campaign() (domain.CampaignConfig, error) {
	if a.settings.CampaignPath == "" {
		return config.DefaultCampaign(), nil
	}
	return config.LoadCampaign(a.settings.CampaignPath)
}

// planAndDispatch runs one plan-then-dispatch cycle. Replanning an unchanged
// configuration reuses the stored manifest and enqueues jobs only for runs
// that are not yet terminal.
func (a *app) planAndDispatch(ctx context.Context) (*domain.Manifest, int, error) {
	cfg, err := a.campaign()
	if err != nil {
		return nil, 0, err
	}

	builder := manifest.NewBuilder(a.store, a.registry, a.logger)
	m, specs, err := builder.Plan(ctx, cfg)
	if err != nil {
		return nil, 0, err
	}

	dispatcher := dispatch.NewDispatcher(a.store, a.dialogueQ, a.registry, a.logger)
	created, err := dispatcher.Dispatch(ctx, m, specs)
	if err != nil {
		return nil, 0, err
	}
	return m, created, nil
}

// llmClient builds the provider-backed model client from whichever API keys
// are configured. Invocations for providers without credentials fail with a
// classified error rather than at startup.
func (a *app) llmClient() (llm.Client, error) {
	providers := make(map[string]llm.ProviderConfig)
	if a.settings.AnthropicAPIKey != "" {
		providers[llm.ProviderAnthropic] = llm.ProviderConfig{
			APIKey:   a.settings.AnthropicAPIKey,
			Endpoint: a.settings.AnthropicEndpoint,
		}
	}
	if a.settings.OpenAIAPIKey != "" {
		providers[llm.ProviderOpenAI] = llm.ProviderConfig{
			APIKey:   a.settings.OpenAIAPIKey,
			Endpoint: a.settings.OpenAIEndpoint,
		}
	}
	if len(providers) == 0 {
		a.logger.Warn("no provider API keys configured, model invocations will fail")
	}
	return llm.NewClient(providers, llm.DefaultRetryConfig(), a.logger)
}
