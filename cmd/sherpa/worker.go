package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
	"github.com/stulshyan/sherpaAI-sub000/internal/worker"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume decomposition jobs and run the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startReloaders(ctx)

			wc := a.cfg.Worker
			if err := streams.EnsureGroup(ctx, a.redis, wc.Stream, wc.Group); err != nil {
				return err
			}
			go func() {
				if err := a.metrics.Serve(ctx, a.cfg.Telemetry.MetricsPort, a.logger); err != nil {
					a.logger.Error("metrics listener failed", zap.Error(err))
				}
			}()

			opts := worker.OptionsFrom(wc)
			if concurrency > 0 {
				opts.Concurrency = concurrency
			}
			opts.Logger = a.logger
			consumer := streams.NewConsumer(a.redis, a.schemas, wc.Group, wc.ConsumerName(), a.logger)
			return worker.NewProcessor(a.orch, consumer, opts).Start(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel pipeline runs (default worker.concurrency)")
	return cmd
}
