package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dialecticlabs/dialectic/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Plan and dispatch campaigns on a cron schedule",
	Long: `Runs a cron loop that plans and dispatches the configured campaign on
the DIALECTIC_CRON schedule (default: Mondays at 06:00 UTC). Because manifests
are content-addressed, an unchanged configuration re-enqueues the same
campaign's unfinished runs instead of creating duplicates.`,
	RunE: runSchedule,
}

var scheduleNow bool

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "Plan and dispatch once immediately, then keep the schedule")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(*cobra.Command, []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cycle := func(ctx context.Context) error {
		m, created, err := a.planAndDispatch(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("campaign dispatched",
			"manifest_id", m.ManifestID,
			"new_runs", created,
			"total_jobs", m.TotalJobs)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scheduleNow {
		if err := cycle(ctx); err != nil {
			return err
		}
	}

	sched := scheduler.NewScheduler(a.logger)
	if err := sched.AddCampaign(a.settings.CronSpec, cycle); err != nil {
		return err
	}
	sched.Start()
	a.logger.Info("scheduler started", "spec", a.settings.CronSpec)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	sched.Stop(stopCtx)
	a.logger.Info("scheduler stopped")
	return nil
}
