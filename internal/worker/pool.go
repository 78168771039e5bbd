// Package worker pumps queue messages into pipeline handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/queue"
)

// Handler processes one delivery. A nil return acknowledges the message;
// an error leaves it leased until the visibility timeout redelivers it.
type Handler func(ctx context.Context, msg queue.Message) error

// Config tunes one pool.
type Config struct {
	// Name labels the pool in logs.
	Name string
	// Concurrency is the number of concurrent consumers.
	Concurrency int
	// Visibility is the lease taken per received message; it must exceed
	// the slowest expected handler run.
	Visibility time.Duration
	// PollInterval is the idle wait between empty receives.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Pool consumes one queue with a fixed number of concurrent handlers.
type Pool struct {
	queue   queue.Queue
	handler Handler
	cfg     Config
	logger  *slog.Logger
}

// NewPool wires a pool.
func NewPool(q queue.Queue, handler Handler, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("pool", cfg.Name),
	}
}

// Run consumes until ctx is cancelled, then returns nil. In-flight handlers
// finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error { return p.consume(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pool) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := p.queue.Receive(ctx, 1, p.cfg.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("receive failed", "error", err)
			if !sleep(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			if !sleep(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}

		msg := msgs[0]
		if err := p.handler(ctx, msg); err != nil {
			// Not acknowledged: the queue redelivers after the visibility
			// timeout, and dead-letters when the limit is reached.
			p.logger.Warn("handler failed, message will redeliver",
				"message_id", msg.ID,
				"delivery", msg.DeliveryCount,
				"error", err)
			continue
		}

		if err := p.queue.Delete(ctx, msg.Receipt); err != nil {
			p.logger.Error("acknowledge failed", "message_id", msg.ID, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// RunAll runs several pools until ctx is cancelled or one fails.
func RunAll(ctx context.Context, pools ...*Pool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pool := range pools {
		g.Go(func() error { return pool.Run(ctx) })
	}
	return g.Wait()
}

// JobHandler adapts a typed job function into a Handler, decoding and
// validating the payload first. Undecodable messages error out and ride the
// redelivery path to the dead-letter sink.
func JobHandler[T any, P interface {
	*T
	Validate() error
}](fn func(ctx context.Context, job T) error) Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var job T
		if err := domain.DecodeJob(msg.Body, P(&job)); err != nil {
			return fmt.Errorf("decode %T: %w", job, err)
		}
		return fn(ctx, job)
	}
}
