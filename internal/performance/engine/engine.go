// Package engine runs a load test from start to verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

var (
	// ErrSetupFailed is returned by Run when the setup hook fails. No VU
	// is started in that case.
	ErrSetupFailed = errors.New("setup failed")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("engine has already run")
)

// Engine orchestrates one test run.
//
// It coordinates:
//   - the setup and teardown hooks
//   - the executor driving the VU scheduler
//   - metrics collection and threshold evaluation
//   - early abort when an abort-on-fail threshold is breached
//
// Example usage:
//
//	eng, _ := engine.New(cfg, iterate, engine.Hooks{}, engine.WithThresholds(ts))
//	result, _ := eng.Run(ctx)
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config  *executor.Config
	iterate performance.IterationFunc
	hooks   Hooks

	logger     *zap.Logger
	seed       *int64
	httpConfig httpclient.Config
	clientOpts []httpclient.Option
	maxRPS     float64
	thinkTime  performance.ThinkTime
	thresholds []threshold.Threshold
	observers  []Observer
	collector  *metrics.Collector

	abortEvalInterval time.Duration
	progressInterval  time.Duration

	runID   string
	started atomic.Bool

	statusMu sync.Mutex
	status   Status
}

// New creates an engine for one run of cfg.
func New(cfg *executor.Config, iterate performance.IterationFunc, hooks Hooks, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("executor configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if iterate == nil {
		return nil, fmt.Errorf("iteration function is required")
	}

	e := &Engine{
		config:            cfg,
		iterate:           iterate,
		hooks:             hooks,
		logger:            zap.NewNop(),
		httpConfig:        httpclient.DefaultConfig(),
		abortEvalInterval: DefaultAbortEvalInterval,
		progressInterval:  DefaultProgressInterval,
		runID:             uuid.NewString(),
		status:            StatusPending,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.collector == nil {
		e.collector = metrics.NewCollector()
	}
	if e.maxRPS < 0 {
		return nil, fmt.Errorf("max RPS cannot be negative")
	}
	return e, nil
}

// RunID returns the unique identifier of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// Collector returns the collector the run records into.
func (e *Engine) Collector() *metrics.Collector {
	return e.collector
}

// Run executes the test and returns its result.
//
// Cancelling ctx stops the run early the same way its duration expiring
// does: VUs finish their current iteration within the graceful stop
// window, thresholds are still evaluated and teardown still runs.
//
// Run returns an error wrapping ErrSetupFailed when the setup hook fails;
// the result then has StatusFailed. Threshold failures are reported on
// the result, not as an error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	logger := e.logger.With(zap.String("run_id", e.runID), zap.String("scenario", e.config.Name))
	result := &Result{
		ID:        e.runID,
		Scenario:  e.config.Name,
		Config:    e.config,
		StartTime: time.Now(),
	}
	e.notify(StatusPending, nil)

	client := httpclient.New(e.httpConfig, e.clientOpts...)
	defer client.CloseIdleConnections()
	hookHTTP := performance.NewHTTP(client, nil, nil, nil)

	data, err := e.runSetup(ctx, hookHTTP)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSetupFailed, err)
		logger.Error("setup failed, no VUs started", zap.Error(err))
		result.SetupError = err
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Status = StatusFailed
		e.setStatus(StatusFailed, err)
		return result, err
	}

	e.registerSubmetrics()

	var limiter *rate.Limiter
	if e.maxRPS > 0 {
		limiter = rate.NewLimiter(e.maxRPS)
	}

	schedOpts := []performance.SchedulerOption{
		performance.WithLogger(logger),
		performance.WithScenarioName(e.config.Name),
		performance.WithThinkTime(e.thinkTime),
		performance.WithLimiter(limiter),
		performance.WithSetupData(data),
		performance.WithOnDrainAll(func() { e.setStatus(StatusDraining, nil) }),
	}
	if e.seed != nil {
		schedOpts = append(schedOpts, performance.WithSeed(*e.seed))
	}
	sched := performance.NewScheduler(e.iterate, e.collector, client, schedOpts...)
	defer sched.Close()

	exec, err := executor.New(e.config, logger)
	if err != nil {
		e.setStatus(StatusFailed, err)
		result.Status = StatusFailed
		return result, err
	}

	runStart := time.Now()
	e.collector.MarkStart(runStart)
	e.setStatus(StatusRunning, nil)
	logger.Info("test started",
		zap.String("executor", string(e.config.Kind)),
		zap.Duration("duration", e.config.TotalDuration()),
		zap.Int("maxVUs", e.config.MaxVUs()))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var aborted atomic.Pointer[threshold.Result]
	execDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(execDone)
		return exec.Run(runCtx, sched)
	})
	if abortable := threshold.Abortable(e.thresholds); len(abortable) > 0 {
		g.Go(func() error {
			if r := e.pollAbort(execDone, runStart, abortable); r != nil {
				aborted.Store(r)
				logger.Warn("threshold breached, aborting test",
					zap.String("threshold", r.Threshold.String()),
					zap.Float64("observed", r.Observed))
				cancelRun()
			}
			return nil
		})
	}
	if progress := e.progressObservers(); len(progress) > 0 {
		g.Go(func() error {
			e.reportProgress(execDone, runStart, exec, sched, progress)
			return nil
		})
	}
	runErr := g.Wait()

	// Seal: nothing recorded after this point is counted.
	e.collector.Freeze()
	snap := e.collector.Snapshot()
	results := threshold.Evaluate(snap, e.thresholds)

	result.Snapshot = snap
	result.Thresholds = results
	result.Passed = threshold.Passed(results)
	result.AbortedBy = aborted.Load()
	result.Cancelled = ctx.Err() != nil
	result.Iterations = sched.Iterations()
	result.FailedIterations = sched.FailedIterations()
	result.Interrupted = sched.Interrupted()
	result.MaxVUs = sched.MaxVUs()
	result.Seed = sched.Seed()
	result.Executor = exec.Stats()
	result.RateLimit = limiter.Stats()

	if runErr != nil {
		runErr = fmt.Errorf("executor: %w", runErr)
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Status = StatusFailed
		e.setStatus(StatusFailed, runErr)
		return result, runErr
	}

	e.setStatus(StatusSealed, nil)
	result.Status = StatusSealed

	if err := e.runTeardown(ctx, hookHTTP, data); err != nil {
		result.TeardownError = err
		logger.Error("teardown failed", zap.Error(err))
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	logger.Info("test finished",
		zap.Bool("passed", result.Passed),
		zap.Int64("iterations", result.Iterations),
		zap.Int64("interrupted", result.Interrupted),
		zap.Duration("rateLimitWait", result.RateLimit.TotalWait),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// registerSubmetrics makes the collector aggregate every sub-metric a
// threshold refers to.
func (e *Engine) registerSubmetrics() {
	for _, t := range e.thresholds {
		if parent, selector, ok := t.Submetric(); ok {
			e.collector.AddSubmetric(parent, selector)
		}
	}
}

// pollAbort evaluates abortable thresholds until one fails or done is
// closed. A threshold is skipped until its DelayAbortEval has elapsed,
// and a metric with no samples yet never aborts the run.
func (e *Engine) pollAbort(done <-chan struct{}, start time.Time, abortable []threshold.Threshold) *threshold.Result {
	ticker := time.NewTicker(e.abortEvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		due := make([]threshold.Threshold, 0, len(abortable))
		for _, t := range abortable {
			if elapsed >= t.DelayAbortEval {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			continue
		}

		for _, r := range threshold.Evaluate(e.collector.Snapshot(), due) {
			if !r.Passed && !r.Undefined {
				return &r
			}
		}
	}
}

func (e *Engine) progressObservers() []ProgressObserver {
	var out []ProgressObserver
	for _, o := range e.observers {
		if p, ok := o.(ProgressObserver); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) reportProgress(done <-chan struct{}, start time.Time, exec executor.Executor, sched *performance.Scheduler, obs []ProgressObserver) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := Progress{
				RunID:      e.runID,
				Scenario:   e.config.Name,
				Elapsed:    time.Since(start),
				Executor:   exec.Stats(),
				Iterations: sched.Iterations(),
				Collector:  e.collector,
			}
			for _, o := range obs {
				o.OnProgress(p)
			}
		}
	}
}

func (e *Engine) notify(s Status, err error) {
	ev := Event{RunID: e.runID, Status: s, Time: time.Now(), Err: err}
	for _, o := range e.observers {
		o.OnStatus(ev)
	}
}

// setStatus moves the run to s. Transitions that are not allowed are
// ignored, so draining is reported once no matter how often it is
// requested.
func (e *Engine) setStatus(s Status, err error) {
	e.statusMu.Lock()
	if !canTransition(e.status, s) {
		e.statusMu.Unlock()
		return
	}
	e.status = s
	e.statusMu.Unlock()

	e.logger.Debug("status changed", zap.String("run_id", e.runID), zap.String("status", string(s)))
	e.notify(s, err)
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusDraining || to == StatusSealed || to == StatusFailed
	case StatusDraining:
		return to == StatusSealed || to == StatusFailed
	default:
		return false
	}
}
