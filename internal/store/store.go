// Package store defines the persistence ports of the pipeline: a table store
// with conditional (compare-and-swap) writes and secondary-index queries, and
// an object store for large payloads addressed by content path.
//
// The contracts here are what make the pipeline safely re-runnable.
// Conditional writes report ErrAlreadyExists or ErrConflict instead of
// overwriting; callers treat those as idempotence signals. Two adapters are
// provided: an in-memory one for tests and a SQLite-backed one for durable
// single-node deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

var (
	// ErrAlreadyExists indicates a conditional insert found an existing row.
	// For idempotent upserts this is the expected duplicate-delivery outcome.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict indicates a compare-and-swap precondition failed, e.g. a
	// run status transition raced with another worker.
	ErrConflict = errors.New("conditional write conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// SummaryFilter narrows and pages run summary listings. Zero-value fields
// match everything; Limit must be bounded by the caller.
type SummaryFilter struct {
	ModelID string
	Period  string
	Limit   int
	Offset  int
}

// Store is the key-value table port. Every method is safe to call
// concurrently; all cross-worker coordination happens through the
// conditional-write semantics documented per method.
type Store interface {
	// PutManifest persists a manifest if absent. Returns ErrAlreadyExists
	// when a manifest with the same id is already stored.
	PutManifest(ctx context.Context, m *domain.Manifest) error
	GetManifest(ctx context.Context, manifestID string) (*domain.Manifest, error)

	// CreateRun inserts a run conditionally: it fails with ErrAlreadyExists
	// when a run already exists for the same (manifest, model, scenario)
	// coordinate, so concurrent dispatch attempts cannot create two runs
	// for one cell of the campaign matrix.
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// FindRun looks a run up by campaign coordinate.
	FindRun(ctx context.Context, manifestID, modelID, scenarioID string) (*domain.Run, error)
	ListRunsByManifest(ctx context.Context, manifestID string) ([]*domain.Run, error)

	// ClaimRun transitions a run to IN_PROGRESS. The claim succeeds when the
	// run is PENDING, or when it is IN_PROGRESS but last updated before
	// staleBefore (a prior worker died mid-run and the job was redelivered).
	// Any other state returns ErrConflict.
	ClaimRun(ctx context.Context, runID string, staleBefore, now time.Time) error

	// TransitionRun performs a status CAS from one state to another,
	// recording errMsg for failures. Returns ErrConflict when the run is no
	// longer in the from state.
	TransitionRun(ctx context.Context, runID string, from, to domain.RunStatus, errMsg string, now time.Time) error

	// TouchRun refreshes an IN_PROGRESS run's updated_at so a live claim is
	// never mistaken for a stale one. Returns ErrConflict when the run is
	// not IN_PROGRESS.
	TouchRun(ctx context.Context, runID string, now time.Time) error

	// PutTurn idempotently inserts a turn. The boolean reports whether a new
	// row was written; a duplicate (RunID, TurnIndex) is a no-op, keeping
	// the content of the first successful write.
	PutTurn(ctx context.Context, turn *domain.Turn) (bool, error)
	GetTurn(ctx context.Context, runID string, turnIndex int) (*domain.Turn, error)
	// ListTurns returns a run's turns ordered by turn index.
	ListTurns(ctx context.Context, runID string) ([]*domain.Turn, error)
	CountTurns(ctx context.Context, runID string) (int, error)

	// PutScore idempotently inserts a score, same contract as PutTurn.
	PutScore(ctx context.Context, score *domain.Score) (bool, error)
	ListScores(ctx context.Context, runID string) ([]*domain.Score, error)
	CountScores(ctx context.Context, runID string) (int, error)

	// PutRunSummary writes a run summary exactly once. ErrAlreadyExists
	// means another worker summarized the run first; callers must then skip
	// the aggregate fold.
	PutRunSummary(ctx context.Context, s *domain.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (*domain.RunSummary, error)
	ListRunSummaries(ctx context.Context, f SummaryFilter) ([]*domain.RunSummary, error)

	// AddContribution atomically folds one run's mean into the (period,
	// model) aggregate: count += 1, sum += mean, sum_squares += mean². The
	// operation is commutative, so concurrent folds from different runs
	// never lose updates.
	AddContribution(ctx context.Context, period, modelID string, mean float64, now time.Time) error
	GetPeriodAggregate(ctx context.Context, period, modelID string) (*domain.PeriodAggregate, error)
	// ListPeriodAggregates returns a period's aggregates ordered by
	// descending mean.
	ListPeriodAggregates(ctx context.Context, period string) ([]*domain.PeriodAggregate, error)
}

// ObjectStore is the large-payload port, addressed by content path, e.g.
// "runs/<run_id>/turn_000_reply".
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
