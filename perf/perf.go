package perf

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/output"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

type (
	// Config describes the VU profile of a run.
	Config = executor.Config

	// Stage is one segment of a ramping profile.
	Stage = executor.Stage

	// Kind selects the executor.
	Kind = executor.Kind

	// Iteration is handed to every call of an IterationFunc.
	Iteration = performance.Iteration

	// IterationFunc is the user code each virtual user runs in a loop.
	IterationFunc = performance.IterationFunc

	// HTTP issues timed requests and records their samples.
	HTTP = performance.HTTP

	// RequestOptions configures a single request.
	RequestOptions = httpclient.RequestOptions

	// Response is a completed HTTP exchange.
	Response = httpclient.Response

	// ThinkTime is the pause between iterations of one VU.
	ThinkTime = performance.ThinkTime

	// Hooks are the setup and teardown functions of a run.
	Hooks = engine.Hooks

	// Result is the outcome of a run.
	Result = engine.Result

	// Threshold is a parsed pass/fail criterion.
	Threshold = threshold.Threshold

	// Observer is notified of run status changes.
	Observer = engine.Observer

	// Option configures a run.
	Option = engine.Option

	// MetricKind is the kind of a metric series.
	MetricKind = metrics.Kind

	// Tags label a sample.
	Tags = metrics.Tags
)

// Executor kinds.
const (
	Constant = executor.KindConstant
	Ramping  = executor.KindRamping
)

// Metric kinds for Iteration.Record.
const (
	Counter = metrics.Counter
	Gauge   = metrics.Gauge
	Rate    = metrics.Rate
	Trend   = metrics.Trend
)

// ErrSetupFailed is wrapped by the error Run returns when setup fails.
var ErrSetupFailed = engine.ErrSetupFailed

// Run executes one load test and returns its result. Failed thresholds
// are reported through Result.Passed, not as an error.
func Run(ctx context.Context, cfg *Config, iterate IterationFunc, hooks Hooks, opts ...Option) (*Result, error) {
	eng, err := engine.New(cfg, iterate, hooks, opts...)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// Thresholds parses threshold expressions keyed by metric name, e.g.
// {"http_req_duration": {"p(95)<500"}}.
func Thresholds(exprs map[string][]string) ([]Threshold, error) {
	defs := make(map[string][]threshold.Definition, len(exprs))
	for metric, list := range exprs {
		for _, expr := range list {
			defs[metric] = append(defs[metric], threshold.Definition{Expression: expr})
		}
	}
	return threshold.ParseSet(defs)
}

// AbortOnFail marks t to stop the run as soon as it is breached.
func AbortOnFail(t Threshold) Threshold {
	t.AbortOnFail = true
	return t
}

// WithBaseURL resolves relative request paths against baseURL.
func WithBaseURL(baseURL string) Option {
	return engine.WithClientOptions(httpclient.WithBaseURL(baseURL))
}

// WithThresholds sets the pass/fail criteria of the run.
func WithThresholds(ts []Threshold) Option {
	return engine.WithThresholds(ts)
}

// WithLogger sets the logger of the run.
func WithLogger(logger *zap.Logger) Option {
	return engine.WithLogger(logger)
}

// WithSeed makes per-VU random sources reproducible.
func WithSeed(seed int64) Option {
	return engine.WithSeed(seed)
}

// WithThinkTime pauses each VU between iterations.
func WithThinkTime(t ThinkTime) Option {
	return engine.WithThinkTime(t)
}

// WithMaxRPS caps requests per second across all VUs.
func WithMaxRPS(perSecond float64) Option {
	return engine.WithMaxRPS(perSecond)
}

// WithObservers registers run observers.
func WithObservers(obs ...Observer) Option {
	return engine.WithObservers(obs...)
}

// PrintSummary writes the k6-style end-of-test report of r to stdout.
func PrintSummary(r *Result) {
	output.NewConsole(output.ConsoleConfig{}).PrintSummary(r)
}
