package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// Default intervals of the background loops.
const (
	DefaultAbortEvalInterval = time.Second
	DefaultProgressInterval  = time.Second
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. It is also handed to the executor and
// the scheduler.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSeed fixes the run seed so VU random sources are reproducible.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = &seed
	}
}

// WithHTTPConfig sets the transport configuration of the shared client.
func WithHTTPConfig(cfg httpclient.Config) Option {
	return func(e *Engine) {
		e.httpConfig = cfg
	}
}

// WithClientOptions adds options to the shared client (base URL, default
// headers, tracer).
func WithClientOptions(opts ...httpclient.Option) Option {
	return func(e *Engine) {
		e.clientOpts = append(e.clientOpts, opts...)
	}
}

// WithMaxRPS caps the aggregate request rate of all VUs. Zero disables
// the cap.
func WithMaxRPS(perSecond float64) Option {
	return func(e *Engine) {
		e.maxRPS = perSecond
	}
}

// WithThinkTime sets the pause VUs take between iterations.
func WithThinkTime(t performance.ThinkTime) Option {
	return func(e *Engine) {
		e.thinkTime = t
	}
}

// WithThresholds sets the thresholds evaluated at the end of the run.
// Thresholds with AbortOnFail are also evaluated while the run is going.
func WithThresholds(ts []threshold.Threshold) Option {
	return func(e *Engine) {
		e.thresholds = ts
	}
}

// WithObservers registers observers of status changes. Observers that also
// implement ProgressObserver receive periodic progress.
func WithObservers(obs ...Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, obs...)
	}
}

// WithCollector makes the engine record into c instead of a fresh
// collector, so callers can expose it while the run is going.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

// WithAbortEvalInterval sets how often abort thresholds are evaluated.
func WithAbortEvalInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.abortEvalInterval = d
		}
	}
}

// WithProgressInterval sets how often progress observers are called.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progressInterval = d
		}
	}
}
