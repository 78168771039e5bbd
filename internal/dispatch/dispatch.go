// Package dispatch fans a planned manifest out into runs and dialogue jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/queue"
	"github.com/dialecticlabs/dialectic/internal/scenario"
	"github.com/dialecticlabs/dialectic/internal/store"
)

// Dispatcher creates runs for manifest cells and enqueues their dialogue
// jobs. Dispatching the same manifest twice is safe: the coordinate-unique
// run insert deduplicates, and re-enqueued jobs for existing runs are
// absorbed by the executor's idempotence gates.
type Dispatcher struct {
	store    store.Store
	dialogue queue.Queue
	registry *scenario.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. A nil registry falls back to the
// built-in scenario bank.
func NewDispatcher(s store.Store, dialogue queue.Queue, registry *scenario.Registry, logger *slog.Logger) *Dispatcher {
	if registry == nil {
		registry = scenario.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    s,
		dialogue: dialogue,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch creates a run per spec and enqueues one dialogue job per run.
// It returns the number of newly created runs; specs whose coordinate
// already has a run are re-enqueued against the existing run.
func (d *Dispatcher) Dispatch(ctx context.Context, m *domain.Manifest, specs []domain.RunSpec) (int, error) {
	created := 0
	for _, spec := range specs {
		run, isNew, err := d.ensureRun(ctx, spec)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}

		job := domain.DialogueJob{
			RunID:      run.RunID,
			ManifestID: run.ManifestID,
			ModelID:    run.ModelID,
			Provider:   run.Provider,
			ScenarioID: run.ScenarioID,
			Params:     run.Params,
		}
		body, err := domain.EncodeJob(job)
		if err != nil {
			return created, fmt.Errorf("encode dialogue job for run %s: %w", run.RunID, err)
		}
		if err := d.dialogue.Send(ctx, body); err != nil {
			return created, fmt.Errorf("enqueue dialogue job for run %s: %w", run.RunID, err)
		}
	}

	d.logger.Info("manifest dispatched",
		"manifest_id", m.ManifestID,
		"specs", len(specs),
		"created", created)
	return created, nil
}

// ensureRun creates the run for a spec, or resolves the existing run when
// the coordinate is already taken.
func (d *Dispatcher) ensureRun(ctx context.Context, spec domain.RunSpec) (*domain.Run, bool, error) {
	scen, err := d.registry.Get(spec.ScenarioID)
	if err != nil {
		return nil, false, err
	}

	turnCount := spec.Params.MaxTurns
	if scen.Turns() < turnCount {
		turnCount = scen.Turns()
	}

	now := d.now().UTC()
	run := &domain.Run{
		RunID:      uuid.NewString(),
		ManifestID: spec.ManifestID,
		ModelID:    spec.ModelID,
		Provider:   spec.Provider,
		ScenarioID: spec.ScenarioID,
		Status:     domain.RunPending,
		TurnCount:  turnCount,
		Params:     spec.Params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch err := d.store.CreateRun(ctx, run); {
	case err == nil:
		return run, true, nil
	case errors.Is(err, store.ErrAlreadyExists):
		existing, findErr := d.store.FindRun(ctx, spec.ManifestID, spec.ModelID, spec.ScenarioID)
		if findErr != nil {
			return nil, false, fmt.Errorf("resolve existing run for %s/%s/%s: %w",
				spec.ManifestID, spec.ModelID, spec.ScenarioID, findErr)
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("create run for %s/%s/%s: %w",
			spec.ManifestID, spec.ModelID, spec.ScenarioID, err)
	}
}
