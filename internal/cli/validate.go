package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/script"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Check a scenario file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := config.Load(args[0])
			if err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			if _, err := sc.ThresholdSet(); err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			if _, err := script.New(sc, nil); err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			execCfg, err := sc.ExecutorConfig()
			if err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %s executor, %d max VUs, %s, %d endpoints, %d thresholds\n",
				sc.ScenarioName(), execCfg.Kind, execCfg.MaxVUs(), execCfg.TotalDuration(), len(sc.Endpoints), len(sc.Thresholds))
			if d := executor.Describe(execCfg.Kind); d != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
}
