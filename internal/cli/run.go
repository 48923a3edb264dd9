package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/exporter"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/output"
	"github.com/wesleyorama2/surge/internal/performance/script"
	"github.com/wesleyorama2/surge/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a load test from a scenario file",
		Long: `Run executes the scenario and prints a summary when it ends.

The exit code reports the verdict: 0 when every threshold passed, 99 when
a threshold failed, 104 for an invalid scenario and 107 when setup failed.

Every flag can also be set through the environment, e.g. SURGE_VUS=20.
Setting --vus or --duration replaces the scenario's load profile with a
constant one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			return runScenario(cmd, v, args[0])
		},
	}

	f := cmd.Flags()
	f.Int("vus", 0, "number of virtual users (constant profile)")
	f.String("duration", "", "test duration, e.g. 30s or 5m (constant profile)")
	f.Int64("seed", 0, "seed for endpoint selection and think time")
	f.Float64("max-rps", 0, "cap on requests per second across all VUs")
	f.String("summary-export", "", "write the JSON summary to this file")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running, e.g. :9090")
	f.String("otlp-endpoint", "", "export request spans to this OTLP/HTTP collector (host:port)")
	f.Bool("otlp-insecure", false, "disable TLS towards the OTLP collector")
	f.BoolP("quiet", "q", false, "print only the verdict")
	f.Bool("no-color", false, "disable colours")
	f.String("log-level", "warn", "log level: debug, info, warn or error")
	f.String("log-format", logging.FormatConsole, "log format: console or json")
	return cmd
}

// overrides collects the scenario overrides set by flags or environment.
func overrides(v *viper.Viper) (config.Overrides, error) {
	o := config.Overrides{
		VUs:    v.GetInt("vus"),
		MaxRPS: v.GetFloat64("max-rps"),
	}

	d, err := config.ParseDuration(v.GetString("duration"))
	if err != nil {
		return o, err
	}
	o.Duration = d

	if v.IsSet("seed") {
		seed := v.GetInt64("seed")
		o.Seed = &seed
	}
	if endpoint := v.GetString("otlp-endpoint"); endpoint != "" {
		o.Tracing = &tracing.Config{Endpoint: endpoint, Insecure: v.GetBool("otlp-insecure")}
	}
	return o, nil
}

func runScenario(cmd *cobra.Command, v *viper.Viper, path string) error {
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return exitf(ExitInvalidConfig, "%w", err)
	}
	defer func() { _ = logger.Sync() }()

	sc, err := config.Load(path)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}
	o, err := overrides(v)
	if err != nil {
		return exitf(ExitInvalidConfig, "invalid override: %w", err)
	}
	if err := sc.Apply(o); err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	execCfg, err := sc.ExecutorConfig()
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}
	thresholds, err := sc.ThresholdSet()
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}
	s, err := script.New(sc, logger)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, sc.TracingConfig())
	if err != nil {
		return exitf(ExitInvalidConfig, "%w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush spans", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color"),
	})
	observers := []engine.Observer{console}

	if addr := v.GetString("metrics-addr"); addr != "" {
		exp := exporter.New(collector, map[string]string{"scenario": sc.ScenarioName()})
		srv, err := exporter.Serve(addr, exp, logger)
		if err != nil {
			return exitf(ExitFailure, "%w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		observers = append(observers, exp)
	}

	clientOpts := []httpclient.Option{httpclient.WithBaseURL(sc.BaseURL)}
	if provider.Enabled() {
		clientOpts = append(clientOpts, httpclient.WithTracer(provider.Tracer()))
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithHTTPConfig(sc.HTTPConfig()),
		engine.WithClientOptions(clientOpts...),
		engine.WithMaxRPS(sc.Settings.MaxRPS),
		engine.WithThinkTime(sc.Think()),
		engine.WithThresholds(thresholds),
		engine.WithCollector(collector),
		engine.WithObservers(observers...),
	}
	if sc.Seed != nil {
		opts = append(opts, engine.WithSeed(*sc.Seed))
	}

	eng, err := engine.New(execCfg, s.Iterate, s.Hooks(), opts...)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	result, runErr := eng.Run(ctx)
	if result != nil {
		console.PrintSummary(result)
		if file := v.GetString("summary-export"); file != "" {
			if err := output.ExportFile(file, result); err != nil {
				return exitf(ExitFailure, "%w", err)
			}
		}
	}

	switch {
	case errors.Is(runErr, engine.ErrSetupFailed):
		return &ExitError{Code: ExitSetupFailed, Err: runErr}
	case runErr != nil:
		return &ExitError{Code: ExitFailure, Err: runErr}
	case !result.Passed:
		return &ExitError{Code: ExitThresholdsFailed}
	}
	return nil
}
