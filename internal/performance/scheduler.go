package performance

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
)

// Scheduler manages the lifecycle of Virtual Users.
//
// It provides:
//   - VU pool management (spawning and draining VUs)
//   - the shared HTTP client, limiter and collector handed to iterations
//   - graceful and forced shutdown coordination
//
// Executors decide how many VUs should run; the scheduler owns the VUs
// themselves. VU goroutines run on the scheduler's own context, which is
// cancelled only by ForceStop, so cancelling an executor never interrupts
// an iteration in flight.
type Scheduler struct {
	iterate   IterationFunc
	collector *metrics.Collector
	client    *httpclient.Client
	limiter   *rate.Limiter
	logger    *zap.Logger

	scenario  string
	seed      int64
	thinkTime ThinkTime
	data      any

	hardCtx    context.Context
	hardCancel context.CancelFunc

	// vus holds live VUs in spawn order
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextID     atomic.Int64
	maxVUs     atomic.Int64
	closed     atomic.Bool
	iterations atomic.Int64
	failed     atomic.Int64
	interrupts atomic.Int64

	onDrainAll   func()
	drainAllOnce sync.Once

	wg sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSeed sets the run seed. VU n draws from a source seeded with seed+n.
func WithSeed(seed int64) SchedulerOption {
	return func(s *Scheduler) {
		s.seed = seed
	}
}

// WithThinkTime sets the pause between iterations.
func WithThinkTime(t ThinkTime) SchedulerOption {
	return func(s *Scheduler) {
		s.thinkTime = t
	}
}

// WithLimiter caps the aggregate request rate of all VUs.
func WithLimiter(l *rate.Limiter) SchedulerOption {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// WithScenarioName tags every sample with scenario=name.
func WithScenarioName(name string) SchedulerOption {
	return func(s *Scheduler) {
		s.scenario = name
	}
}

// WithSetupData passes the setup hook result to every iteration.
func WithSetupData(data any) SchedulerOption {
	return func(s *Scheduler) {
		s.data = data
	}
}

// WithOnDrainAll registers a callback fired once, when DrainAll is first
// called.
func WithOnDrainAll(fn func()) SchedulerOption {
	return func(s *Scheduler) {
		s.onDrainAll = fn
	}
}

// NewScheduler creates a scheduler running iterate on every VU.
func NewScheduler(iterate IterationFunc, collector *metrics.Collector, client *httpclient.Client, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		iterate:    iterate,
		collector:  collector,
		client:     client,
		logger:     zap.NewNop(),
		scenario:   "default",
		seed:       time.Now().UnixNano(),
		hardCtx:    ctx,
		hardCancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts a new VU. It returns nil once DrainAll has been called.
func (s *Scheduler) Spawn() *VirtualUser {
	if s.closed.Load() {
		return nil
	}

	id := int(s.nextID.Add(1))
	vu := newVirtualUser(id)

	s.vusMu.Lock()
	if s.closed.Load() {
		s.vusMu.Unlock()
		return nil
	}
	s.vus = append(s.vus, vu)
	live := int64(len(s.vus))
	s.wg.Add(1)
	s.vusMu.Unlock()

	for {
		cur := s.maxVUs.Load()
		if live <= cur || s.maxVUs.CompareAndSwap(cur, live) {
			break
		}
	}

	go s.runVU(vu)
	return vu
}

// DrainNewest asks the n most recently spawned running VUs to stop after
// their current iteration. It returns how many were drained.
func (s *Scheduler) DrainNewest(n int) int {
	if n <= 0 {
		return 0
	}

	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	drained := 0
	for i := len(s.vus) - 1; i >= 0 && drained < n; i-- {
		if s.vus[i].drain() {
			drained++
		}
	}
	return drained
}

// DrainAll stops spawning and drains every VU. The first call fires the
// OnDrainAll callback.
func (s *Scheduler) DrainAll() {
	s.closed.Store(true)
	s.drainAllOnce.Do(func() {
		if s.onDrainAll != nil {
			s.onDrainAll()
		}
	})

	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	for _, vu := range s.vus {
		vu.drain()
	}
}

// ForceStop cancels the context of all in-flight iterations. Their samples
// are discarded and they are counted as interrupted.
func (s *Scheduler) ForceStop() {
	s.closed.Store(true)
	s.hardCancel()
}

// Close releases the scheduler context. Call it once Wait has returned.
func (s *Scheduler) Close() {
	s.closed.Store(true)
	s.hardCancel()
}

// Wait blocks until every VU goroutine exits or timeout elapses. It
// returns true if all VUs stopped.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Running returns the number of VUs that are spawning or running.
// Draining VUs are not counted.
func (s *Scheduler) Running() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	n := 0
	for _, vu := range s.vus {
		if st := vu.State(); st == VUStateSpawning || st == VUStateRunning {
			n++
		}
	}
	return n
}

// Active returns the number of VUs whose goroutine has not exited.
func (s *Scheduler) Active() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	return len(s.vus)
}

// VUs returns a copy of the live VUs in spawn order.
func (s *Scheduler) VUs() []*VirtualUser {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	out := make([]*VirtualUser, len(s.vus))
	copy(out, s.vus)
	return out
}

// Seed returns the run seed VU random sources derive from.
func (s *Scheduler) Seed() int64 {
	return s.seed
}

// MaxVUs returns the highest number of simultaneously live VUs.
func (s *Scheduler) MaxVUs() int {
	return int(s.maxVUs.Load())
}

// Iterations returns the number of completed, recorded iterations.
func (s *Scheduler) Iterations() int64 {
	return s.iterations.Load()
}

// FailedIterations returns how many recorded iterations failed.
func (s *Scheduler) FailedIterations() int64 {
	return s.failed.Load()
}

// Interrupted returns how many iterations were cut short by ForceStop.
func (s *Scheduler) Interrupted() int64 {
	return s.interrupts.Load()
}

// RecordVUs records the current VU gauges.
func (s *Scheduler) RecordVUs() {
	now := time.Now()
	tags := metrics.Tags{"scenario": s.scenario}
	_ = s.collector.Add(metrics.Sample{Metric: MetricVUs, Kind: metrics.Gauge, Value: float64(s.Running()), Tags: tags, Time: now})
	_ = s.collector.Add(metrics.Sample{Metric: MetricVUsMax, Kind: metrics.Gauge, Value: float64(s.MaxVUs()), Tags: tags, Time: now})
}

func (s *Scheduler) remove(vu *VirtualUser) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	for i, v := range s.vus {
		if v == vu {
			s.vus = append(s.vus[:i], s.vus[i+1:]...)
			return
		}
	}
}

// runVU runs iterations until the VU is drained or force-stopped.
func (s *Scheduler) runVU(vu *VirtualUser) {
	defer s.wg.Done()
	defer vu.markStopped()
	defer s.remove(vu)

	if !vu.start() {
		return
	}

	rng := rand.New(rand.NewSource(s.seed + int64(vu.ID)))
	tags := metrics.Tags{"scenario": s.scenario}
	http := NewHTTP(s.client, s.collector, s.limiter, tags).StopOn(s.hardCtx)

	for {
		if vu.draining() || s.hardCtx.Err() != nil {
			return
		}

		s.runIteration(vu, rng, http, tags)

		if vu.draining() || s.hardCtx.Err() != nil {
			return
		}

		if pause := s.thinkTime.next(rng); pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-s.hardCtx.Done():
			case <-vu.drainCh:
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

func (s *Scheduler) runIteration(vu *VirtualUser, rng *rand.Rand, http *HTTP, tags metrics.Tags) {
	it := &Iteration{
		VU:        vu.ID,
		Number:    vu.iterations.Load(),
		Scenario:  s.scenario,
		Rand:      rng,
		Data:      s.data,
		HTTP:      http,
		collector: s.collector,
		tags:      tags,
	}

	vu.iterations.Add(1)
	vu.inIteration.Store(true)
	start := time.Now()
	err := s.call(it)
	elapsed := time.Since(start)
	vu.inIteration.Store(false)

	if s.hardCtx.Err() != nil {
		s.interrupts.Add(1)
		return
	}

	s.iterations.Add(1)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("iteration failed",
			zap.Int("vu", vu.ID),
			zap.Int64("iteration", it.Number),
			zap.Error(err))
	}

	now := time.Now()
	add := func(metric string, kind metrics.Kind, value float64) {
		_ = s.collector.Add(metrics.Sample{Metric: metric, Kind: kind, Value: value, Tags: tags, Time: now})
	}
	add(MetricIterations, metrics.Counter, 1)
	add(MetricIterationDuration, metrics.Trend, millis(elapsed))
	add(MetricIterationFailed, metrics.Rate, metrics.Bool(err != nil))
}

// call runs the iteration function, converting a panic into an error.
func (s *Scheduler) call(it *Iteration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("iteration panicked",
				zap.Int("vu", it.VU),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()
	return s.iterate(s.hardCtx, it)
}
