package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dialecticlabs/dialectic/internal/aggregation"
	"github.com/dialecticlabs/dialectic/internal/dialogue"
	"github.com/dialecticlabs/dialectic/internal/scoring"
	"github.com/dialecticlabs/dialectic/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the dialogue, scoring, and aggregation consumer pools",
	Long: `Consumes the dialogue, scoring, and completed-run queues until
interrupted. Handlers are idempotent, so crashed or redelivered jobs are
retried safely up to the delivery cap, then dead-lettered.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(*cobra.Command, []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.llmClient()
	if err != nil {
		return err
	}

	executor := dialogue.NewExecutor(a.store, a.objects, client, a.registry, a.scoringQ, a.logger)
	executor.SetStaleClaim(a.settings.StaleClaim)

	scorer := scoring.NewScorer(a.store, a.objects, a.completedQ, nil, nil, a.logger)
	aggregator := aggregation.NewAggregator(a.store, a.objects, a.logger)

	poolCfg := func(name string) worker.Config {
		return worker.Config{
			Name:        name,
			Concurrency: a.settings.WorkerConcurrency,
			Visibility:  a.settings.Visibility,
		}
	}
	pools := []*worker.Pool{
		worker.NewPool(a.dialogueQ, worker.JobHandler(executor.Execute), poolCfg(queueDialogue), a.logger),
		worker.NewPool(a.scoringQ, worker.JobHandler(scorer.Score), poolCfg(queueScoring), a.logger),
		worker.NewPool(a.completedQ, worker.JobHandler(aggregator.Summarize), poolCfg(queueCompleted), a.logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("worker pools starting",
		"concurrency", a.settings.WorkerConcurrency,
		"visibility", a.settings.Visibility,
		"max_deliveries", a.settings.MaxDeliveries)
	return worker.RunAll(ctx, pools...)
}
