// Package aggregation folds fully scored runs into run summaries and rolling
// per-period model aggregates.
package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/store"
)

// Aggregator consumes run-completed events. The run summary's conditional
// insert is the idempotence gate: only the event delivery that wins the
// insert folds the run into its period aggregate, so duplicate deliveries
// never double-count.
type Aggregator struct {
	store   store.Store
	objects store.ObjectStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator wires an Aggregator.
func NewAggregator(s store.Store, objects store.ObjectStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, objects: objects, logger: logger, now: time.Now}
}

// Summarize processes one run-completed event. A nil return acknowledges it.
func (a *Aggregator) Summarize(ctx context.Context, event domain.RunCompletedEvent) error {
	run, err := a.store.GetRun(ctx, event.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", event.RunID, err)
	}
	switch run.Status {
	case domain.RunCompleted:
	case domain.RunFailed:
		// Failed runs never summarize; their events carry nothing.
		a.logger.Warn("dropping completion event for failed run", "run_id", run.RunID)
		return nil
	default:
		// The scorer fires on score count alone, so an event can arrive
		// before the executor's terminal transition. Redeliver until the
		// run settles.
		return fmt.Errorf("run %s not terminal yet (%s)", run.RunID, run.Status)
	}

	summary, err := a.build(ctx, run)
	if err != nil {
		return err
	}

	// The document write is idempotent and precedes the gate, so a crash
	// cannot leave a summary row without its document.
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary for run %s: %w", run.RunID, err)
	}
	if err := a.objects.Put(ctx, domain.SummaryKey(run.RunID), doc); err != nil {
		return fmt.Errorf("store summary document for run %s: %w", run.RunID, err)
	}

	switch err := a.store.PutRunSummary(ctx, summary); {
	case errors.Is(err, store.ErrAlreadyExists):
		a.logger.Debug("run already summarized", "run_id", run.RunID)
		return nil
	case err != nil:
		return fmt.Errorf("store summary for run %s: %w", run.RunID, err)
	}

	if summary.MeanAggregate != domain.UnscoredAggregate {
		if err := a.store.AddContribution(ctx,
			summary.Period, summary.ModelID, summary.MeanAggregate, a.now().UTC()); err != nil {
			return fmt.Errorf("fold run %s into %s/%s: %w",
				run.RunID, summary.Period, summary.ModelID, err)
		}
	}

	a.logger.Info("run summarized",
		"run_id", run.RunID,
		"period", summary.Period,
		"mean", summary.MeanAggregate,
		"half_life", summary.HalfLife)
	return nil
}

// build verifies the run's turn and score sets and computes the summary.
// Inconsistent data returns an error so the event is redelivered once the
// scorer catches up.
func (a *Aggregator) build(ctx context.Context, run *domain.Run) (*domain.RunSummary, error) {
	turns, err := a.store.ListTurns(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("list turns of run %s: %w", run.RunID, err)
	}
	scores, err := a.store.ListScores(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("list scores of run %s: %w", run.RunID, err)
	}

	if len(turns) != run.TurnCount || len(scores) != run.TurnCount {
		return nil, fmt.Errorf("run %s not fully scored: %d turns, %d scores, want %d",
			run.RunID, len(turns), len(scores), run.TurnCount)
	}
	indices := make([]int, len(turns))
	for i, t := range turns {
		indices[i] = t.TurnIndex
	}
	if !domain.ContiguousTurns(indices) {
		return nil, fmt.Errorf("run %s has gaps in turn indices %v", run.RunID, indices)
	}

	threshold := run.Params.ComplianceThreshold
	var (
		valid       []float64
		compliant   int
		halfLife    = domain.NoHalfLife
		inputTotal  int
		outputTotal int
	)
	openEnded := 0
	for _, s := range scores {
		if s.Valid {
			valid = append(valid, s.Aggregate)
		}
		if s.Compliant(threshold) {
			compliant++
		} else if halfLife == domain.NoHalfLife {
			// Half-life is the first turn where Socratic discipline broke;
			// unscored turns count as broken.
			halfLife = s.TurnIndex
		}
		if s.Metrics["open_ended"] > 0.5 {
			openEnded++
		}
	}
	questioning := 0
	for _, t := range turns {
		inputTotal += t.InputTokens
		outputTotal += t.OutputTokens
		if t.HasQuestion {
			questioning++
		}
	}

	mean := domain.UnscoredAggregate
	if len(valid) > 0 {
		mean, err = stats.Mean(valid)
		if err != nil {
			return nil, fmt.Errorf("mean aggregate of run %s: %w", run.RunID, err)
		}
	}

	return &domain.RunSummary{
		RunID:             run.RunID,
		ManifestID:        run.ManifestID,
		ModelID:           run.ModelID,
		ScenarioID:        run.ScenarioID,
		Period:            run.Period(),
		MeanAggregate:     mean,
		CompliantTurns:    compliant,
		HalfLife:          halfLife,
		ViolationRate:     1 - float64(questioning)/float64(run.TurnCount),
		OpenEndedRate:     float64(openEnded) / float64(run.TurnCount),
		TurnCount:         run.TurnCount,
		TotalInputTokens:  inputTotal,
		TotalOutputTokens: outputTotal,
		CuratedAt:         a.now().UTC(),
	}, nil
}
