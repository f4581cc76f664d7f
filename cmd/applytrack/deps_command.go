package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"applytrack/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external programs and credentials the configuration needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := deps.Check(cfg)
			if ctx.jsonOutput() {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "Nothing to check for the current configuration")
				return nil
			}
			var missing int
			rows := make([][]string, 0, len(results))
			for _, status := range results {
				if !status.Available && !status.Optional {
					missing++
				}
				rows = append(rows, []string{status.Name, yesNo(status.Available), status.Command, status.Detail})
			}
			printTable(out, []string{"Dependency", "Available", "Command", "Detail"}, rows)
			if missing > 0 {
				return fmt.Errorf("%d required dependency(ies) missing", missing)
			}
			return nil
		},
	}
}
