package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func healthCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every configured adapter and print the health map",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			reg, err := newAdapters(cfg, logger, nil)
			if err != nil {
				return err
			}
			health := reg.HealthCheck(cmd.Context())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(health); err != nil {
				return err
			}
			var down []string
			for id, ok := range health {
				if !ok {
					down = append(down, id)
				}
			}
			if len(down) > 0 {
				sort.Strings(down)
				return fmt.Errorf("unhealthy adapters: %v", down)
			}
			return nil
		},
	}
}
