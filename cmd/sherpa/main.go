package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "sherpa",
		Short:        "Requirement decomposition service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is built-in defaults plus SHERPA_* env)")

	root.AddCommand(
		serveCMD(&cfgPath),
		workerCMD(&cfgPath),
		migrateCMD(&cfgPath),
		runCMD(&cfgPath),
		healthCMD(&cfgPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
