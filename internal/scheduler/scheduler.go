// Package scheduler triggers recurring campaign planning on a cron spec.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCampaignSpec plans a fresh campaign every Monday at 06:00 UTC,
// matching the weekly reporting period.
const DefaultCampaignSpec = "0 6 * * 1"

// CampaignFunc plans and dispatches one campaign.
type CampaignFunc func(ctx context.Context) error

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	// jobTimeout bounds a single campaign trigger.
	jobTimeout time.Duration
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		logger:     logger,
		jobTimeout: 10 * time.Minute,
	}
}

// AddCampaign registers run on the given cron spec.
func (s *Scheduler) AddCampaign(spec string, run CampaignFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("scheduled campaign failed", "error", err)
			return
		}
		s.logger.Info("scheduled campaign dispatched", "took", time.Since(start))
	})
	return err
}

// Start begins firing entries in a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running entry to finish, bounded by
// ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
