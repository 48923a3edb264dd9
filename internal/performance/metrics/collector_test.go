package metrics

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCollector(clock *fakeClock) *Collector {
	opts := DefaultOptions()
	opts.Now = clock.Now
	return NewCollectorWithOptions(opts)
}

func TestCollector_Counter(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 10; i++ {
		if err := c.Record("http_reqs", Counter, 1, nil); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := c.Record("data_received", Counter, 512, nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	snap := c.Snapshot()
	reqs, ok := snap.Get("http_reqs")
	if !ok {
		t.Fatal("http_reqs missing from snapshot")
	}
	if reqs.Sum != 10 {
		t.Errorf("http_reqs sum = %v, want 10", reqs.Sum)
	}
	if reqs.Count != 10 {
		t.Errorf("http_reqs count = %v, want 10", reqs.Count)
	}

	data, _ := snap.Get("data_received")
	if data.Sum != 512 {
		t.Errorf("data_received sum = %v, want 512", data.Sum)
	}
	if got := data.PerSecond(2 * time.Second); got != 256 {
		t.Errorf("PerSecond() = %v, want 256", got)
	}
}

func TestCollector_Rate(t *testing.T) {
	c := NewCollector()

	outcomes := []bool{true, false, false, true, false}
	for _, ok := range outcomes {
		require.NoError(t, c.Record("http_req_failed", Rate, Bool(ok), nil))
	}

	s, ok := c.Snapshot().Get("http_req_failed")
	require.True(t, ok)
	assert.Equal(t, int64(5), s.Count)
	assert.Equal(t, int64(2), s.Trues)
	assert.Equal(t, int64(3), s.Fails())
	assert.InDelta(t, 0.4, s.Rate(), 1e-9)
}

func TestCollector_Gauge(t *testing.T) {
	c := NewCollector()
	base := time.Now()

	require.NoError(t, c.Add(Sample{Metric: "vus", Kind: Gauge, Value: 5, Time: base}))
	require.NoError(t, c.Add(Sample{Metric: "vus", Kind: Gauge, Value: 10, Time: base.Add(2 * time.Second)}))
	// Late sample must not override the newer value.
	require.NoError(t, c.Add(Sample{Metric: "vus", Kind: Gauge, Value: 1, Time: base.Add(time.Second)}))

	s, _ := c.Snapshot().Get("vus")
	assert.Equal(t, float64(10), s.Value)
	assert.Equal(t, float64(1), s.Min)
	assert.Equal(t, float64(10), s.Max)
}

func TestCollector_TrendStatistics(t *testing.T) {
	c := NewCollector()

	for i := 1; i <= 100; i++ {
		require.NoError(t, c.Record("http_req_duration", Trend, float64(i), nil))
	}

	s, ok := c.Snapshot().Get("http_req_duration")
	require.True(t, ok)

	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, float64(1), s.Min)
	assert.Equal(t, float64(100), s.Max)
	assert.InDelta(t, 50.5, s.Avg(), 1e-9)

	tests := []struct {
		p    float64
		want float64
	}{
		{50, 50},
		{90, 90},
		{95, 95},
		{99, 99},
		{100, 100},
	}
	for _, tt := range tests {
		got := s.Percentile(tt.p)
		if math.Abs(got-tt.want) > tt.want*0.01 {
			t.Errorf("Percentile(%v) = %v, want %v (±1%%)", tt.p, got, tt.want)
		}
	}
	assert.InDelta(t, s.Percentile(50), s.Med(), 1e-9)
}

func TestCollector_EmptyTrend(t *testing.T) {
	s := &SeriesSnapshot{Kind: Trend}
	assert.Equal(t, float64(0), s.Percentile(95))
	assert.Equal(t, float64(0), s.Avg())
	assert.Equal(t, float64(0), s.Rate())
}

func TestCollector_KindMismatch(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Record("errors", Rate, 1, nil))

	err := c.Record("errors", Counter, 1, nil)
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Record() error = %v, want ErrKindMismatch", err)
	}

	s, _ := c.Snapshot().Get("errors")
	assert.Equal(t, int64(1), s.Count, "rejected sample must not be aggregated")
}

func TestCollector_EmptyName(t *testing.T) {
	c := NewCollector()
	assert.ErrorIs(t, c.Record("", Counter, 1, nil), ErrEmptyName)
}

func TestCollector_Freeze(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestCollector(clock)

	require.NoError(t, c.Record("iterations", Counter, 1, nil))
	clock.Advance(3 * time.Second)
	c.Freeze()
	clock.Advance(time.Minute)

	assert.True(t, c.Frozen())
	assert.ErrorIs(t, c.Record("iterations", Counter, 1, nil), ErrFrozen)

	snap := c.Snapshot()
	assert.True(t, snap.Final)
	assert.Equal(t, 3*time.Second, snap.Elapsed, "elapsed stops at freeze time")

	s, _ := snap.Get("iterations")
	assert.Equal(t, float64(1), s.Sum)

	// Idempotent.
	c.Freeze()
	assert.Equal(t, 3*time.Second, c.Snapshot().Elapsed)
}

// Every sample accepted by concurrent writers is present in the final
// snapshot.
func TestCollector_ConcurrentWritersCompleteness(t *testing.T) {
	c := NewCollector()

	const writers = 32
	const perWriter = 2000

	var wg sync.WaitGroup
	var accepted sync.Map
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			n := 0
			for i := 0; i < perWriter; i++ {
				if err := c.Record("http_reqs", Counter, 1, nil); err == nil {
					n++
				}
				_ = c.Record("http_req_duration", Trend, float64(i%500), nil)
				_ = c.Record("checks", Rate, Bool(i%2 == 0), nil)
			}
			accepted.Store(w, n)
		}(w)
	}

	// Snapshots taken mid-run must not disturb writers.
	for i := 0; i < 5; i++ {
		_ = c.Snapshot()
	}

	wg.Wait()
	c.Freeze()

	total := 0
	accepted.Range(func(_, v any) bool {
		total += v.(int)
		return true
	})

	snap := c.Snapshot()
	reqs, _ := snap.Get("http_reqs")
	assert.Equal(t, float64(total), reqs.Sum)
	assert.Equal(t, float64(writers*perWriter), reqs.Sum)

	dur, _ := snap.Get("http_req_duration")
	assert.Equal(t, int64(writers*perWriter), dur.Count)

	checks, _ := snap.Get("checks")
	assert.InDelta(t, 0.5, checks.Rate(), 1e-9)
}

// Writers racing a Freeze either land in the final snapshot or get
// ErrFrozen; nothing is silently dropped.
func TestCollector_FreezeRaceAccounting(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				err := c.Record("iterations", Counter, 1, nil)
				if errors.Is(err, ErrFrozen) {
					return
				}
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	c.Freeze()
	wg.Wait()

	s, ok := c.Snapshot().Get("iterations")
	if accepted == 0 {
		return
	}
	require.True(t, ok)
	assert.Equal(t, float64(accepted), s.Sum)
}

// Adding samples at or above the current p95 never lowers it, and samples
// at or below it never raise it.
func TestCollector_PercentileMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	c := NewCollector()
	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Record("d", Trend, rng.Float64()*1000, nil))
	}

	prev := mustSeries(t, c, "d").Percentile(95)
	for i := 0; i < 200; i++ {
		v := prev + rng.Float64()*100
		require.NoError(t, c.Record("d", Trend, v, nil))
		cur := mustSeries(t, c, "d").Percentile(95)
		if cur < prev {
			t.Fatalf("p95 decreased from %v to %v after adding %v", prev, cur, v)
		}
		prev = cur
	}

	for i := 0; i < 200; i++ {
		v := prev * rng.Float64()
		require.NoError(t, c.Record("d", Trend, v, nil))
		cur := mustSeries(t, c, "d").Percentile(95)
		if cur > prev {
			t.Fatalf("p95 increased from %v to %v after adding %v", prev, cur, v)
		}
		prev = cur
	}
}

func mustSeries(t *testing.T, c *Collector, name string) *SeriesSnapshot {
	t.Helper()
	s, ok := c.Snapshot().Get(name)
	require.True(t, ok, "series %s missing", name)
	return s
}

func TestCollector_Submetric(t *testing.T) {
	c := NewCollector()

	name := c.AddSubmetric("http_req_duration", Tags{"name": "teams"})
	assert.Equal(t, "http_req_duration{name:teams}", name)

	_, ok := c.Snapshot().Get(name)
	assert.False(t, ok, "submetric is hidden until the parent exists")

	require.NoError(t, c.Record("http_req_duration", Trend, 100, Tags{"name": "teams", "status": "200"}))
	require.NoError(t, c.Record("http_req_duration", Trend, 300, Tags{"name": "users"}))
	require.NoError(t, c.Record("http_req_duration", Trend, 200, Tags{"name": "teams"}))

	snap := c.Snapshot()
	parent, _ := snap.Get("http_req_duration")
	sub, ok := snap.Get(name)
	require.True(t, ok)

	assert.Equal(t, int64(3), parent.Count)
	assert.Equal(t, int64(2), sub.Count)
	assert.Equal(t, Trend, sub.Kind)
	assert.Equal(t, "http_req_duration", sub.Parent)
	assert.Equal(t, float64(200), sub.Max)

	// Registering again is a no-op.
	assert.Equal(t, name, c.AddSubmetric("http_req_duration", Tags{"name": "teams"}))
}

func TestCollector_SubmetricOnExistingParent(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Record("checks", Rate, 1, Tags{"check": "status is 200"}))

	name := c.AddSubmetric("checks", Tags{"check": "status is 200"})
	require.NoError(t, c.Record("checks", Rate, 0, Tags{"check": "status is 200"}))
	require.NoError(t, c.Record("checks", Rate, 1, Tags{"check": "valid json"}))

	sub, ok := c.Snapshot().Get(name)
	require.True(t, ok)
	assert.Equal(t, Rate, sub.Kind)
	assert.Equal(t, int64(1), sub.Count, "only samples after registration count")
	assert.Equal(t, float64(0), sub.Rate())
}

func TestCollector_Window(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestCollector(clock)

	// Old samples: 100ms each.
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Record("http_req_duration", Trend, 100, nil))
	}
	clock.Advance(5 * time.Second)

	// Recent samples: 500ms each.
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Record("http_req_duration", Trend, 500, nil))
	}

	recent, ok := c.Window("http_req_duration", 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(50), recent.Count)
	assert.InDelta(t, 500, recent.Percentile(95), 5)

	all, _ := c.Window("http_req_duration", 10*time.Second)
	assert.Equal(t, int64(100), all.Count)

	cumulative := mustSeries(t, c, "http_req_duration")
	assert.Equal(t, int64(100), cumulative.Count)

	_, ok = c.Window("missing", time.Second)
	assert.False(t, ok)
}

func TestCollector_WindowOutOfOrder(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestCollector(clock)
	base := clock.Now()

	// Writers report with their own timestamps, not in order.
	stamps := []time.Duration{3 * time.Second, time.Second, 2 * time.Second, 0, 3 * time.Second}
	for _, d := range stamps {
		require.NoError(t, c.Add(Sample{Metric: "iterations", Kind: Counter, Value: 1, Time: base.Add(d)}))
	}
	clock.Advance(3*time.Second + 500*time.Millisecond)

	w, ok := c.Window("iterations", 1500*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, float64(3), w.Sum, "buckets for seconds 2 and 3")

	w, _ = c.Window("iterations", 10*time.Second)
	assert.Equal(t, float64(5), w.Sum)
}

func TestCollector_WindowEvictsStaleBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.Shards = 1
	c := NewCollectorWithOptions(opts)

	require.NoError(t, c.Record("iterations", Counter, 1, nil))
	// Wrap the ring so the first bucket's slot is reused.
	clock.Advance(10 * time.Second)
	require.NoError(t, c.Record("iterations", Counter, 1, nil))

	w, _ := c.Window("iterations", 30*time.Second)
	assert.Equal(t, float64(1), w.Sum)

	s := mustSeries(t, c, "iterations")
	assert.Equal(t, float64(2), s.Sum)
}

func TestParseSubmetric(t *testing.T) {
	tests := []struct {
		in         string
		wantParent string
		wantTags   Tags
		wantOK     bool
		wantErr    bool
	}{
		{in: "http_req_duration", wantParent: "http_req_duration"},
		{in: "http_req_duration{status:200}", wantParent: "http_req_duration", wantTags: Tags{"status": "200"}, wantOK: true},
		{in: "checks{check:status is 200,name:teams}", wantParent: "checks", wantTags: Tags{"check": "status is 200", "name": "teams"}, wantOK: true},
		{in: "http_reqs{}", wantErr: true},
		{in: "http_reqs{status}", wantErr: true},
		{in: "{a:b}", wantErr: true},
		{in: "http_reqs{a:b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			parent, tags, ok, err := ParseSubmetric(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantParent, parent)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTags, tags)
				assert.Equal(t, tt.in, SubmetricName(parent, tags))
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Counter, Gauge, Rate, Trend} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("histogram")
	assert.Error(t, err)
}
