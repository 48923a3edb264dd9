// Command target-server runs the fantasy-league API that the example
// scenarios load test.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/testtarget"
)

func main() {
	var (
		addr     string
		cfg      testtarget.Config
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "target-server",
		Short: "Serve the test API on /health and /api/{teams,users,games,leaderboard}",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logLevel, logging.FormatConsole)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), addr, cfg, logger)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.DurationVar(&cfg.Latency, "latency", 0, "latency added to every API response")
	f.DurationVar(&cfg.Jitter, "jitter", 0, "random latency added on top of --latency")
	f.Int64Var(&cfg.FailEvery, "fail-every", 0, "answer 503 to every Nth API request")
	f.StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, cfg testtarget.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           testtarget.New(cfg, logger),
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("target server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
