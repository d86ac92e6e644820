package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/internal/store"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := store.Migrate(cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("direction", direction), zap.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
