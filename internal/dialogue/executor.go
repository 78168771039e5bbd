// Package dialogue executes multi-turn Socratic dialogues for queued runs.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/llm"
	"github.com/dialecticlabs/dialectic/internal/queue"
	"github.com/dialecticlabs/dialectic/internal/scenario"
	"github.com/dialecticlabs/dialectic/internal/store"
)

const (
	// DefaultStaleClaim is how old an IN_PROGRESS claim must be before a
	// redelivered job may take the run over from a dead worker.
	DefaultStaleClaim = 10 * time.Minute

	// DefaultTurnDeadline bounds a single model invocation, retries included.
	DefaultTurnDeadline = 2 * time.Minute
)

// ErrRunBusy signals that another worker holds a fresh claim on the run.
// The job should be redelivered later rather than acknowledged.
var ErrRunBusy = errors.New("run claimed by another worker")

// Executor runs dialogues. Every effect is idempotent: the run claim is a
// status CAS, turn inserts are first-write-wins, and scoring jobs are safe
// to enqueue more than once.
type Executor struct {
	store    store.Store
	objects  store.ObjectStore
	client   llm.Client
	registry *scenario.Registry
	scoring  queue.Queue
	logger   *slog.Logger
	now      func() time.Time

	staleClaim   time.Duration
	turnDeadline time.Duration
}

// NewExecutor wires an Executor. A nil registry falls back to the built-in
// scenario bank.
func NewExecutor(
	s store.Store,
	objects store.ObjectStore,
	client llm.Client,
	registry *scenario.Registry,
	scoring queue.Queue,
	logger *slog.Logger,
) *Executor {
	if registry == nil {
		registry = scenario.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:        s,
		objects:      objects,
		client:       client,
		registry:     registry,
		scoring:      scoring,
		logger:       logger,
		now:          time.Now,
		staleClaim:   DefaultStaleClaim,
		turnDeadline: DefaultTurnDeadline,
	}
}

// SetStaleClaim overrides the age after which an abandoned claim may be
// reclaimed. Non-positive values are ignored.
func (e *Executor) SetStaleClaim(d time.Duration) {
	if d > 0 {
		e.staleClaim = d
	}
}

// SetTurnDeadline overrides the per-invocation deadline. Non-positive values
// are ignored.
func (e *Executor) SetTurnDeadline(d time.Duration) {
	if d > 0 {
		e.turnDeadline = d
	}
}

// Execute processes one dialogue job. A nil return acknowledges the job;
// any error leaves it on the queue for redelivery.
func (e *Executor) Execute(ctx context.Context, job domain.DialogueJob) error {
	run, err := e.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	if run.Status.Terminal() {
		e.logger.Debug("run already terminal, dropping job",
			"run_id", run.RunID, "status", run.Status)
		return nil
	}

	now := e.now().UTC()
	switch err := e.store.ClaimRun(ctx, run.RunID, now.Add(-e.staleClaim), now); {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("run %s: %w", run.RunID, ErrRunBusy)
	default:
		return fmt.Errorf("claim run %s: %w", run.RunID, err)
	}

	scen, err := e.registry.Get(run.ScenarioID)
	if err != nil {
		return e.fail(ctx, run, err)
	}

	history, nextTurn, err := e.resume(ctx, run, scen)
	if err != nil {
		return fmt.Errorf("resume run %s: %w", run.RunID, err)
	}
	if nextTurn > 0 {
		e.logger.Info("resuming dialogue",
			"run_id", run.RunID, "next_turn", nextTurn, "turn_count", run.TurnCount)
	}

	for i := nextTurn; i < run.TurnCount; i++ {
		utterance, err := scen.StudentUtterance(i)
		if err != nil {
			return e.fail(ctx, run, err)
		}
		history = append(history, llm.Message{Role: llm.RoleUser, Content: utterance})

		result, err := e.invoke(ctx, run, scen, history)
		if err != nil {
			if ctx.Err() != nil {
				// Worker shutdown, not a model failure. Redeliver.
				return ctx.Err()
			}
			return e.fail(ctx, run, fmt.Errorf("turn %d: %w", i, err))
		}

		if err := e.persistTurn(ctx, run, i, utterance, result); err != nil {
			return fmt.Errorf("persist turn %d of run %s: %w", i, run.RunID, err)
		}
		if err := e.enqueueScoring(ctx, run.RunID, i); err != nil {
			return err
		}

		// Heartbeat so a long but live dialogue is never mistaken for a
		// stale claim and stolen by a redelivered duplicate. ErrConflict
		// means another worker already reclaimed or finished the run;
		// stop rather than double-invoke the remaining turns.
		switch err := e.store.TouchRun(ctx, run.RunID, e.now().UTC()); {
		case err == nil:
		case errors.Is(err, store.ErrConflict):
			e.logger.Warn("lost run claim mid-dialogue", "run_id", run.RunID, "turn", i)
			return fmt.Errorf("run %s: %w", run.RunID, ErrRunBusy)
		default:
			return fmt.Errorf("heartbeat run %s: %w", run.RunID, err)
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: result.Text})
	}

	switch err := e.store.TransitionRun(ctx, run.RunID,
		domain.RunInProgress, domain.RunCompleted, "", e.now().UTC()); {
	case err == nil:
		e.logger.Info("dialogue completed", "run_id", run.RunID, "turns", run.TurnCount)
	case errors.Is(err, store.ErrConflict):
		// Lost a race with another worker's terminal transition.
	default:
		return fmt.Errorf("complete run %s: %w", run.RunID, err)
	}
	return nil
}

// resume rebuilds the conversation from already persisted turns and returns
// the first missing turn index. Scoring jobs for existing turns are
// re-enqueued so a crash between turn insert and enqueue loses nothing.
func (e *Executor) resume(ctx context.Context, run *domain.Run, scen *scenario.Scenario) ([]llm.Message, int, error) {
	turns, err := e.store.ListTurns(ctx, run.RunID)
	if err != nil {
		return nil, 0, err
	}

	history := make([]llm.Message, 0, 2*len(turns))
	next := 0
	for _, t := range turns {
		if t.TurnIndex != next {
			break
		}
		utterance, err := scen.StudentUtterance(t.TurnIndex)
		if err != nil {
			return nil, 0, err
		}
		reply, err := e.objects.Get(ctx, t.ReplyRef)
		if err != nil {
			return nil, 0, fmt.Errorf("load reply %s: %w", t.ReplyRef, err)
		}
		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: utterance},
			llm.Message{Role: llm.RoleAssistant, Content: string(reply)})

		if err := e.enqueueScoring(ctx, run.RunID, t.TurnIndex); err != nil {
			return nil, 0, err
		}
		next++
	}
	return history, next, nil
}

func (e *Executor) invoke(ctx context.Context, run *domain.Run, scen *scenario.Scenario, history []llm.Message) (*llm.Result, error) {
	turnCtx, cancel := context.WithTimeout(ctx, e.turnDeadline)
	defer cancel()

	return e.client.Invoke(turnCtx, &llm.Request{
		ModelID:     run.ModelID,
		Provider:    run.Provider,
		System:      scen.SystemPrompt(),
		Messages:    history,
		MaxTokens:   run.Params.MaxTokens,
		Temperature: run.Params.Temperature,
	})
}

func (e *Executor) persistTurn(ctx context.Context, run *domain.Run, index int, utterance string, result *llm.Result) error {
	promptRef := domain.PromptKey(run.RunID, index)
	replyRef := domain.ReplyKey(run.RunID, index)

	if err := e.objects.Put(ctx, promptRef, []byte(utterance)); err != nil {
		return fmt.Errorf("store prompt: %w", err)
	}
	if err := e.objects.Put(ctx, replyRef, []byte(result.Text)); err != nil {
		return fmt.Errorf("store reply: %w", err)
	}

	turn := &domain.Turn{
		RunID:        run.RunID,
		TurnIndex:    index,
		PromptRef:    promptRef,
		ReplyRef:     replyRef,
		LatencyMS:    result.LatencyMS,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		HasQuestion:  strings.Contains(result.Text, "?"),
		WordCount:    domain.CountWords(result.Text),
		CreatedAt:    e.now().UTC(),
	}
	inserted, err := e.store.PutTurn(ctx, turn)
	if err != nil {
		return err
	}
	if !inserted {
		e.logger.Debug("turn already recorded", "run_id", run.RunID, "turn", index)
	}
	return nil
}

func (e *Executor) enqueueScoring(ctx context.Context, runID string, turnIndex int) error {
	body, err := domain.EncodeJob(domain.ScoringJob{RunID: runID, TurnIndex: turnIndex})
	if err != nil {
		return fmt.Errorf("encode scoring job: %w", err)
	}
	if err := e.scoring.Send(ctx, body); err != nil {
		return fmt.Errorf("enqueue scoring job for run %s turn %d: %w", runID, turnIndex, err)
	}
	return nil
}

// fail marks the run FAILED and acknowledges the job; the failure is
// recorded on the run rather than retried forever.
func (e *Executor) fail(ctx context.Context, run *domain.Run, cause error) error {
	e.logger.Error("dialogue failed", "run_id", run.RunID, "error", cause)

	err := e.store.TransitionRun(ctx, run.RunID,
		domain.RunInProgress, domain.RunFailed, cause.Error(), e.now().UTC())
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("mark run %s failed: %w", run.RunID, err)
	}
	return nil
}
