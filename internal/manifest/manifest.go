// Package manifest turns a campaign configuration into a deterministic
// manifest and the run specs it implies.
//
// The manifest id is derived from a content hash of the normalized
// configuration, so planning the same campaign twice on the same day yields
// the same manifest and downstream idempotence gates absorb the duplicate
// work.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/scenario"
	"github.com/dialecticlabs/dialectic/internal/store"
)

const manifestHashLen = 12

// Builder plans campaigns against a store.
type Builder struct {
	store    store.Store
	registry *scenario.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuilder creates a Builder. A nil registry falls back to the built-in
// scenario bank.
func NewBuilder(s store.Store, registry *scenario.Registry, logger *slog.Logger) *Builder {
	if registry == nil {
		registry = scenario.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, registry: registry, logger: logger, now: time.Now}
}

// Plan normalizes cfg, stores the manifest if it is new, and returns the run
// specs for every model x scenario cell. Re-planning an already stored
// manifest returns the stored manifest with the same specs; the dispatcher
// makes re-enqueued specs harmless.
func (b *Builder) Plan(ctx context.Context, cfg domain.CampaignConfig) (*domain.Manifest, []domain.RunSpec, error) {
	normalized, err := b.normalize(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize config: %w", err)
	}

	now := b.now().UTC()
	id, err := ManifestID(normalized, now)
	if err != nil {
		return nil, nil, err
	}

	m := &domain.Manifest{
		ManifestID: id,
		Config:     normalized,
		CreatedAt:  now,
		TotalJobs:  len(normalized.Models) * len(normalized.Scenarios),
	}

	switch err := b.store.PutManifest(ctx, m); {
	case err == nil:
		b.logger.Info("manifest created",
			"manifest_id", id,
			"models", len(normalized.Models),
			"scenarios", len(normalized.Scenarios),
			"total_jobs", m.TotalJobs)
	case errors.Is(err, store.ErrAlreadyExists):
		stored, getErr := b.store.GetManifest(ctx, id)
		if getErr != nil {
			return nil, nil, fmt.Errorf("load existing manifest %s: %w", id, getErr)
		}
		m = stored
		b.logger.Info("manifest already planned", "manifest_id", id)
	default:
		return nil, nil, fmt.Errorf("store manifest %s: %w", id, err)
	}

	return m, Specs(m), nil
}

// Specs expands a manifest into one RunSpec per model x scenario cell.
func Specs(m *domain.Manifest) []domain.RunSpec {
	specs := make([]domain.RunSpec, 0, len(m.Config.Models)*len(m.Config.Scenarios))
	for _, model := range m.Config.Models {
		params := m.Config.Parameters
		if model.MaxTokens > 0 {
			params.MaxTokens = model.MaxTokens
		}
		if model.Temperature != nil {
			params.Temperature = *model.Temperature
		}
		for _, scenarioID := range m.Config.Scenarios {
			specs = append(specs, domain.RunSpec{
				ManifestID: m.ManifestID,
				ModelID:    model.ModelID,
				Provider:   model.Provider,
				ScenarioID: scenarioID,
				Params:     params,
			})
		}
	}
	return specs
}

// ManifestID derives the deterministic id "M-<yyyymmdd>-<12 hex>" from the
// canonical JSON encoding of the normalized config.
func ManifestID(cfg domain.CampaignConfig, now time.Time) (string, error) {
	canonical, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])[:manifestHashLen]
	return fmt.Sprintf("M-%s-%s", now.UTC().Format("20060102"), hash), nil
}

// normalize validates and canonicalizes the config: defaults applied,
// providers inferred from model id prefixes, models sorted by id, scenarios
// deduplicated and sorted.
func (b *Builder) normalize(cfg domain.CampaignConfig) (domain.CampaignConfig, error) {
	out := cfg

	if out.Parameters.MaxTurns <= 0 {
		out.Parameters.MaxTurns = domain.DefaultMaxTurns
	}
	if out.Parameters.MaxTokens <= 0 {
		out.Parameters.MaxTokens = domain.DefaultMaxTokens
	}
	if out.Parameters.Temperature == 0 {
		out.Parameters.Temperature = domain.DefaultTemperature
	}
	if out.Parameters.ComplianceThreshold == 0 {
		out.Parameters.ComplianceThreshold = domain.DefaultComplianceThreshold
	}

	out.Models = make([]domain.ModelSpec, len(cfg.Models))
	copy(out.Models, cfg.Models)
	for i := range out.Models {
		if out.Models[i].Provider == "" {
			provider, err := InferProvider(out.Models[i].ModelID)
			if err != nil {
				return domain.CampaignConfig{}, err
			}
			out.Models[i].Provider = provider
		}
	}
	sort.Slice(out.Models, func(i, j int) bool {
		return out.Models[i].ModelID < out.Models[j].ModelID
	})

	seen := make(map[string]bool, len(cfg.Scenarios))
	out.Scenarios = make([]string, 0, len(cfg.Scenarios))
	for _, id := range cfg.Scenarios {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := b.registry.Get(id); err != nil {
			return domain.CampaignConfig{}, err
		}
		out.Scenarios = append(out.Scenarios, id)
	}
	sort.Strings(out.Scenarios)

	if err := out.Validate(); err != nil {
		return domain.CampaignConfig{}, err
	}
	return out, nil
}

// InferProvider derives the provider from a model id prefix, e.g.
// "anthropic.claude-3-5-haiku" is served by the anthropic provider.
func InferProvider(modelID string) (string, error) {
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '.' {
			return modelID[:i], nil
		}
	}
	return "", fmt.Errorf("model id %q has no provider prefix", modelID)
}
