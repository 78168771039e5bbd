// Package scoring turns persisted dialogue turns into per-turn scores and
// signals run completion once every turn is scored.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/queue"
	"github.com/dialecticlabs/dialectic/internal/store"
)

// ScorerVersion identifies the current metric set on every score row.
const ScorerVersion = "heuristic-v1"

// Reducer folds a metric map into a single aggregate. The bool reports
// whether the result is usable; false yields an unscored sentinel.
type Reducer func(metrics map[string]float64) (float64, bool)

// Scorer scores one turn per job. A metric that panics or returns an
// out-of-range value marks the turn unscored instead of poisoning the queue;
// unscored turns still count toward run completion.
type Scorer struct {
	store     store.Store
	objects   store.ObjectStore
	completed queue.Queue
	metrics   map[string]MetricFunc
	reduce    Reducer
	logger    *slog.Logger
	now       func() time.Time
}

// NewScorer wires a Scorer. Nil metrics fall back to HeuristicMetrics and a
// nil reducer to the unweighted mean.
func NewScorer(
	s store.Store,
	objects store.ObjectStore,
	completed queue.Queue,
	metrics map[string]MetricFunc,
	reduce Reducer,
	logger *slog.Logger,
) *Scorer {
	if metrics == nil {
		metrics = HeuristicMetrics()
	}
	if reduce == nil {
		reduce = domain.MeanReduction
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:     s,
		objects:   objects,
		completed: completed,
		metrics:   metrics,
		reduce:    reduce,
		logger:    logger,
		now:       time.Now,
	}
}

// Score processes one scoring job. A nil return acknowledges the job.
func (s *Scorer) Score(ctx context.Context, job domain.ScoringJob) error {
	run, err := s.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", job.RunID, err)
	}

	turn, err := s.store.GetTurn(ctx, job.RunID, job.TurnIndex)
	if err != nil {
		// The turn insert and the job enqueue are not atomic; redelivery
		// will find it once the executor catches up.
		return fmt.Errorf("load turn %d of run %s: %w", job.TurnIndex, job.RunID, err)
	}

	reply, err := s.objects.Get(ctx, turn.ReplyRef)
	if err != nil {
		return fmt.Errorf("load reply %s: %w", turn.ReplyRef, err)
	}

	score := s.evaluate(job.RunID, job.TurnIndex, string(reply))
	inserted, err := s.store.PutScore(ctx, score)
	if err != nil {
		return fmt.Errorf("store score for run %s turn %d: %w", job.RunID, job.TurnIndex, err)
	}
	if !inserted {
		s.logger.Debug("turn already scored", "run_id", job.RunID, "turn", job.TurnIndex)
	}

	return s.checkCompletion(ctx, run)
}

// evaluate applies the metric set to a reply. Failures downgrade the turn to
// an unscored sentinel score rather than returning an error.
func (s *Scorer) evaluate(runID string, turnIndex int, reply string) *domain.Score {
	metrics, err := s.applyMetrics(reply)
	scoredAt := s.now().UTC()

	if err == nil {
		if aggregate, ok := s.reduce(metrics); ok {
			return &domain.Score{
				RunID:         runID,
				TurnIndex:     turnIndex,
				Metrics:       metrics,
				Aggregate:     aggregate,
				Valid:         true,
				ScorerVersion: ScorerVersion,
				ScoredAt:      scoredAt,
			}
		}
		err = fmt.Errorf("reduction rejected metrics %v", sortedNames(metrics))
	}

	s.logger.Warn("turn left unscored",
		"run_id", runID, "turn", turnIndex, "error", err)
	return &domain.Score{
		RunID:         runID,
		TurnIndex:     turnIndex,
		Aggregate:     domain.UnscoredAggregate,
		Valid:         false,
		Error:         err.Error(),
		ScorerVersion: ScorerVersion,
		ScoredAt:      scoredAt,
	}
}

// applyMetrics runs every metric, converting panics and out-of-range values
// into errors.
func (s *Scorer) applyMetrics(reply string) (map[string]float64, error) {
	metrics := make(map[string]float64, len(s.metrics))
	for name, fn := range s.metrics {
		value, err := safeApply(name, fn, reply)
		if err != nil {
			return nil, err
		}
		if value < 0 || value > 1 {
			return nil, &domain.MetricRangeError{Metric: name, Value: value}
		}
		metrics[name] = value
	}
	return metrics, nil
}

func safeApply(name string, fn MetricFunc, reply string) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metric %s panicked: %v", name, r)
		}
	}()
	return fn(reply), nil
}

// checkCompletion emits a RunCompletedEvent once every declared turn has a
// score. The final score can land before the executor's terminal transition,
// so the run's status is deliberately not consulted here; the aggregator
// redelivers early events until the run settles. Duplicate events are
// absorbed by its one-time summary write.
func (s *Scorer) checkCompletion(ctx context.Context, run *domain.Run) error {
	n, err := s.store.CountScores(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("count scores for run %s: %w", run.RunID, err)
	}
	if n < run.TurnCount {
		return nil
	}

	body, err := domain.EncodeJob(domain.RunCompletedEvent{RunID: run.RunID})
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}
	if err := s.completed.Send(ctx, body); err != nil {
		return fmt.Errorf("enqueue completion event for run %s: %w", run.RunID, err)
	}
	s.logger.Info("run fully scored", "run_id", run.RunID, "scores", n)
	return nil
}

func sortedNames(metrics map[string]float64) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
