// Package cli implements the surge command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// EnvPrefix prefixes the environment variables that override flags,
// e.g. SURGE_VUS or SURGE_LOG_LEVEL.
const EnvPrefix = "SURGE"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "surge",
		Short:   "A virtual-user load generation engine",
		Version: version,
		Long: `Surge drives concurrent virtual users against an HTTP service following a
declarative scenario, aggregates per-request samples into metrics and
evaluates pass/fail thresholds against them.

  surge run scenario.yaml
  surge run scenario.yaml --vus 50 --duration 2m --summary-export out.json
  surge validate scenario.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Args[1:], os.Stderr)
}

func execute(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitFailure
}

// newViper binds the flags of cmd to a viper instance that also reads
// SURGE_* environment variables. Flags win over the environment.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}
