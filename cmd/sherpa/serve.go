package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/internal/server"
	"github.com/stulshyan/sherpaAI-sub000/internal/worker"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP status and enqueue API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startReloaders(ctx)

			if addr == "" {
				addr = a.cfg.Server.Address
			}
			e := server.New(server.Deps{
				Status:       a.status,
				Jobs:         worker.NewEnqueuer(a.publisher, a.status, a.cfg.Worker.Stream),
				Requirements: a.store,
				Results:      a.orch,
				Adapters:     a.adapters,
				Metrics:      a.metrics.Handler(),
				Logger:       a.logger,
			})
			a.logger.Info("http server listening", zap.String("addr", addr))
			return server.Run(ctx, e, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}
