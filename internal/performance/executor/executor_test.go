package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// fakeVUs records what the executor asks of it. Wait returns the next value
// from waits, or true once they are exhausted.
type fakeVUs struct {
	mu         sync.Mutex
	running    int
	spawned    int
	drained    int
	peak       int
	history    []int
	drainAll   int
	forceStops int
	waits      []bool
	waitArgs   []time.Duration
	closed     bool
}

func (f *fakeVUs) Spawn() *performance.VirtualUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.running++
	f.spawned++
	if f.running > f.peak {
		f.peak = f.running
	}
	return &performance.VirtualUser{ID: f.spawned}
}

func (f *fakeVUs) DrainNewest(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > f.running {
		n = f.running
	}
	f.running -= n
	f.drained += n
	return n
}

func (f *fakeVUs) DrainAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drainAll++
	f.closed = true
	f.running = 0
}

func (f *fakeVUs) ForceStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceStops++
}

func (f *fakeVUs) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitArgs = append(f.waitArgs, timeout)
	if len(f.waits) == 0 {
		return true
	}
	ok := f.waits[0]
	f.waits = f.waits[1:]
	return ok
}

func (f *fakeVUs) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeVUs) RecordVUs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, f.running)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    executor.Kind
		wantErr bool
	}{
		{"constant", executor.KindConstant, false},
		{"constant-vus", executor.KindConstant, false},
		{" Ramping ", executor.KindRamping, false},
		{"ramping-vus", executor.KindRamping, false},
		{"constant-arrival-rate", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := executor.ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    executor.Config
		wantField string
	}{
		{"valid constant", executor.Config{Kind: executor.KindConstant, VUs: 1, Duration: time.Second}, ""},
		{"valid ramping", executor.Config{Kind: executor.KindRamping, Stages: []executor.Stage{{Duration: time.Second, Target: 1}}}, ""},
		{"ramping with zero target", executor.Config{Kind: executor.KindRamping, Stages: []executor.Stage{{Duration: time.Second}}}, ""},
		{"missing executor", executor.Config{VUs: 1, Duration: time.Second}, "executor"},
		{"unknown executor", executor.Config{Kind: "shared-iterations"}, "executor"},
		{"constant zero vus", executor.Config{Kind: executor.KindConstant, Duration: time.Second}, "vus"},
		{"constant zero duration", executor.Config{Kind: executor.KindConstant, VUs: 1}, "duration"},
		{"ramping no stages", executor.Config{Kind: executor.KindRamping}, "stages"},
		{"ramping negative start", executor.Config{Kind: executor.KindRamping, StartVUs: -1, Stages: []executor.Stage{{Duration: time.Second}}}, "startVUs"},
		{"ramping negative target", executor.Config{Kind: executor.KindRamping, Stages: []executor.Stage{{Duration: time.Second, Target: -2}}}, "stages[0].target"},
		{"ramping negative duration", executor.Config{Kind: executor.KindRamping, Stages: []executor.Stage{{Duration: time.Second}, {Duration: -time.Second}}}, "stages[1].duration"},
		{"negative graceful stop", executor.Config{Kind: executor.KindConstant, VUs: 1, Duration: time.Second, GracefulStop: -1}, "gracefulStop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *executor.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestNew(t *testing.T) {
	e, err := executor.New(&executor.Config{Kind: executor.KindConstant, VUs: 2, Duration: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, executor.KindConstant, e.Kind())

	e, err = executor.New(&executor.Config{Kind: executor.KindRamping, Stages: []executor.Stage{{Duration: time.Second, Target: 2}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, executor.KindRamping, e.Kind())

	_, err = executor.New(&executor.Config{Kind: "per-vu-iterations"}, nil)
	assert.Error(t, err)

	_, err = executor.NewConstantVUs(&executor.Config{Kind: executor.KindRamping}, nil)
	assert.Error(t, err)

	assert.NotNil(t, executor.Describe(executor.KindRamping))
	assert.Nil(t, executor.Describe("nope"))
}

func TestConstantVUs_HoldsPopulation(t *testing.T) {
	cfg := &executor.Config{
		Kind:         executor.KindConstant,
		VUs:          5,
		Duration:     150 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	}
	e, err := executor.NewConstantVUs(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	vus := &fakeVUs{}
	require.NoError(t, e.Run(context.Background(), vus))

	assert.Equal(t, 5, vus.spawned, "constant executor should spawn exactly VUs")
	assert.Equal(t, 5, vus.peak)
	assert.Zero(t, vus.drained, "nothing drained before shutdown")
	assert.Equal(t, 1, vus.drainAll)
	assert.Zero(t, vus.forceStops)
	require.NotEmpty(t, vus.waitArgs)
	assert.Equal(t, executor.DefaultGracefulStop, vus.waitArgs[0])

	// every reconcile before shutdown saw the full population
	for _, n := range vus.history[:len(vus.history)-1] {
		assert.Equal(t, 5, n)
	}

	stats := e.Stats()
	assert.True(t, stats.Finished)
	assert.False(t, stats.Cancelled)
	assert.False(t, stats.ForceStopped)
	assert.Equal(t, 5, stats.TargetVUs)
	assert.Equal(t, 0, stats.RunningVUs)
	assert.InDelta(t, 1.0, stats.Progress, 0.001)
}

func TestRampingVUs_FollowsStages(t *testing.T) {
	cfg := &executor.Config{
		Kind: executor.KindRamping,
		Stages: []executor.Stage{
			{Duration: 0, Target: 4, Name: "jump"},
			{Duration: 100 * time.Millisecond, Target: 4, Name: "hold"},
			{Duration: 0, Target: 1, Name: "drop"},
			{Duration: 100 * time.Millisecond, Target: 1, Name: "tail"},
		},
		TickInterval: 5 * time.Millisecond,
	}
	e, err := executor.NewRampingVUs(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	vus := &fakeVUs{}
	require.NoError(t, e.Run(context.Background(), vus))

	assert.Equal(t, 4, vus.peak)
	assert.Equal(t, 4, vus.spawned, "dropping the target must not respawn")
	assert.Equal(t, 3, vus.drained, "three newest VUs drained when the target fell to 1")
	assert.Contains(t, vus.history, 1)
	assert.Equal(t, 1, vus.drainAll)

	stats := e.Stats()
	assert.True(t, stats.Finished)
	assert.Equal(t, 4, stats.TotalStages)
	assert.Equal(t, "tail", stats.CurrentStageName)
}

func TestRampingVUs_NeverExceedsPeak(t *testing.T) {
	cfg := &executor.Config{
		Kind:     executor.KindRamping,
		StartVUs: 2,
		Stages: []executor.Stage{
			{Duration: 60 * time.Millisecond, Target: 6},
			{Duration: 60 * time.Millisecond, Target: 0},
		},
		TickInterval: 5 * time.Millisecond,
	}
	e, err := executor.NewRampingVUs(cfg, nil)
	require.NoError(t, err)

	vus := &fakeVUs{}
	require.NoError(t, e.Run(context.Background(), vus))

	assert.LessOrEqual(t, vus.peak, 6)
	assert.GreaterOrEqual(t, vus.peak, 2)
	for _, n := range vus.history {
		assert.GreaterOrEqual(t, n, 0)
		assert.LessOrEqual(t, n, 6)
	}
}

func TestExecutor_CancelDrains(t *testing.T) {
	cfg := &executor.Config{
		Kind:         executor.KindConstant,
		VUs:          3,
		Duration:     time.Hour,
		TickInterval: 10 * time.Millisecond,
	}
	e, err := executor.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	vus := &fakeVUs{}
	start := time.Now()
	require.NoError(t, e.Run(ctx, vus))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, 1, vus.drainAll)
	assert.Zero(t, vus.forceStops, "cancellation drains gracefully")

	stats := e.Stats()
	assert.True(t, stats.Cancelled)
	assert.True(t, stats.Finished)
	assert.False(t, stats.ForceStopped)
}

func TestExecutor_GracefulStopTimeout(t *testing.T) {
	cfg := &executor.Config{
		Kind:         executor.KindConstant,
		VUs:          2,
		Duration:     30 * time.Millisecond,
		GracefulStop: 250 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	}
	e, err := executor.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	vus := &fakeVUs{waits: []bool{false, true}}
	require.NoError(t, e.Run(context.Background(), vus))

	assert.Equal(t, 1, vus.forceStops)
	require.Len(t, vus.waitArgs, 2)
	assert.Equal(t, 250*time.Millisecond, vus.waitArgs[0])
	assert.True(t, e.Stats().ForceStopped)
}

func TestExecutor_WithScheduler(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()
	iterate := func(ctx context.Context, it *performance.Iteration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return nil
		}
	}
	sched := performance.NewScheduler(iterate, collector, httpclient.New(httpclient.DefaultConfig()),
		performance.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(sched.Close)

	cfg := &executor.Config{
		Kind:         executor.KindConstant,
		VUs:          3,
		Duration:     120 * time.Millisecond,
		GracefulStop: time.Second,
		TickInterval: 10 * time.Millisecond,
	}
	e, err := executor.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), sched))

	assert.Equal(t, 0, sched.Running())
	assert.Equal(t, 3, sched.MaxVUs())
	assert.Positive(t, sched.Iterations())
	assert.Zero(t, sched.Interrupted(), "graceful drain never interrupts")

	snap := collector.Snapshot()
	its, ok := snap.Get(performance.MetricIterations)
	require.True(t, ok)
	assert.Equal(t, float64(sched.Iterations()), its.Sum)

	vusMax, ok := snap.Get(performance.MetricVUsMax)
	require.True(t, ok)
	assert.Equal(t, 3.0, vusMax.Value)
}

func TestExecutor_WithSchedulerForceStop(t *testing.T) {
	collector := metrics.NewCollector()
	block := func(ctx context.Context, it *performance.Iteration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	sched := performance.NewScheduler(block, collector, httpclient.New(httpclient.DefaultConfig()),
		performance.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(sched.Close)

	cfg := &executor.Config{
		Kind:         executor.KindConstant,
		VUs:          2,
		Duration:     30 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	}
	e, err := executor.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), sched))

	assert.True(t, e.Stats().ForceStopped)
	assert.Equal(t, 0, sched.Running())
	assert.Equal(t, int64(2), sched.Interrupted())
	assert.Zero(t, sched.Iterations(), "interrupted iterations are not counted")
}
