package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
)

func runCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <requirement-id>",
		Short: "Run the pipeline for one requirement and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			state := a.orch.Execute(ctx, args[0])
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(state); err != nil {
				return err
			}
			if state.Stage != pipeline.StageCompleted {
				return fmt.Errorf("pipeline ended in stage %s", state.Stage)
			}
			return nil
		},
	}
}
