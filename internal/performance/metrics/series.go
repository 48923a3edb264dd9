package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// trendScale converts trend values (milliseconds for timings) into the
// integer units stored in the histogram, giving microsecond resolution.
const trendScale = 1000

// HistogramConfig controls the HDR histograms backing trend series.
type HistogramConfig struct {
	// Highest is the largest trackable value in histogram units
	// (default: 3600000000, one hour of milliseconds at microsecond resolution).
	Highest int64

	// SigFigs is the number of significant figures kept (1-5, default: 3).
	SigFigs int
}

func (h HistogramConfig) new() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, h.Highest, h.SigFigs)
}

func toHistogramUnits(v float64, highest int64) int64 {
	scaled := int64(math.Round(v * trendScale))
	if scaled < 0 {
		return 0
	}
	if scaled > highest {
		return highest
	}
	return scaled
}

// aggregate is the mergeable state kept by shards, window buckets
// and snapshots.
type aggregate struct {
	count    int64
	sum      float64
	min      float64
	max      float64
	trues    int64
	last     float64
	lastTime time.Time
	hist     *hdrhistogram.Histogram
}

func (a *aggregate) add(kind Kind, value float64, t time.Time, highest int64) {
	if a.count == 0 || value < a.min {
		a.min = value
	}
	if a.count == 0 || value > a.max {
		a.max = value
	}

	switch kind {
	case Rate:
		if value != 0 {
			a.trues++
		}
	case Gauge:
		if a.count == 0 || !t.Before(a.lastTime) {
			a.last = value
			a.lastTime = t
		}
	case Trend:
		// Out of range values are clamped; exact bounds live in min/max.
		_ = a.hist.RecordValue(toHistogramUnits(value, highest))
	}

	a.count++
	a.sum += value
}

func (a *aggregate) merge(kind Kind, other *aggregate) {
	if other.count == 0 {
		return
	}
	if a.count == 0 || other.min < a.min {
		a.min = other.min
	}
	if a.count == 0 || other.max > a.max {
		a.max = other.max
	}
	if kind == Gauge && (a.count == 0 || !other.lastTime.Before(a.lastTime)) {
		a.last = other.last
		a.lastTime = other.lastTime
	}
	if kind == Trend && a.hist != nil && other.hist != nil {
		a.hist.Merge(other.hist)
	}

	a.count += other.count
	a.sum += other.sum
	a.trues += other.trues
}

func (a *aggregate) reset() {
	hist := a.hist
	*a = aggregate{}
	if hist != nil {
		hist.Reset()
		a.hist = hist
	}
}

// window is one time bucket of a shard's recent history.
type window struct {
	start int64
	agg   aggregate
}

// shard holds one slice of a series' state behind its own lock.
type shard struct {
	mu      sync.Mutex
	agg     aggregate
	windows []window
}

// series is the sharded, append-only state of one named metric.
type series struct {
	name     string
	kind     Kind
	parent   string
	selector Tags

	shards []*shard
	next   atomic.Uint64

	opts *Options
}

func newSeries(name string, kind Kind, opts *Options) *series {
	s := &series{
		name:   name,
		kind:   kind,
		shards: make([]*shard, opts.Shards),
		opts:   opts,
	}
	for i := range s.shards {
		sh := &shard{windows: make([]window, opts.WindowBuckets)}
		if kind == Trend {
			sh.agg.hist = opts.Histogram.new()
		}
		s.shards[i] = sh
	}
	return s
}

func (s *series) add(value float64, t time.Time) {
	sh := s.shards[s.next.Add(1)%uint64(len(s.shards))]

	sh.mu.Lock()
	sh.agg.add(s.kind, value, t, s.opts.Histogram.Highest)
	s.addWindow(sh, value, t)
	sh.mu.Unlock()
}

// addWindow places a sample in the bucket covering its timestamp. Samples
// older than the bucket currently occupying their slot are dropped from the
// window view only; the cumulative aggregate already holds them.
func (s *series) addWindow(sh *shard, value float64, t time.Time) {
	if len(sh.windows) == 0 {
		return
	}

	interval := int64(s.opts.WindowInterval)
	ts := t.UnixNano()
	aligned := ts - mod(ts, interval)
	idx := mod(aligned/interval, int64(len(sh.windows)))

	w := &sh.windows[idx]
	if w.start != aligned {
		if w.agg.count > 0 && aligned < w.start {
			return
		}
		w.agg.reset()
		w.start = aligned
	}
	if s.kind == Trend && w.agg.hist == nil {
		w.agg.hist = s.opts.WindowHistogram.new()
	}
	w.agg.add(s.kind, value, t, s.opts.WindowHistogram.Highest)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func (s *series) snapshot() *SeriesSnapshot {
	merged := aggregate{}
	if s.kind == Trend {
		merged.hist = s.opts.Histogram.new()
	}

	for _, sh := range s.shards {
		sh.mu.Lock()
		merged.merge(s.kind, &sh.agg)
		sh.mu.Unlock()
	}
	return s.toSnapshot(&merged)
}

// window merges the buckets overlapping (now-span, now].
func (s *series) window(now time.Time, span time.Duration) *SeriesSnapshot {
	merged := aggregate{}
	if s.kind == Trend {
		merged.hist = s.opts.WindowHistogram.new()
	}

	interval := int64(s.opts.WindowInterval)
	from := now.Add(-span).UnixNano()
	to := now.UnixNano()

	for _, sh := range s.shards {
		sh.mu.Lock()
		for i := range sh.windows {
			w := &sh.windows[i]
			if w.agg.count == 0 || w.start+interval <= from || w.start > to {
				continue
			}
			merged.merge(s.kind, &w.agg)
		}
		sh.mu.Unlock()
	}
	return s.toSnapshot(&merged)
}

func (s *series) toSnapshot(a *aggregate) *SeriesSnapshot {
	return &SeriesSnapshot{
		Name:     s.name,
		Kind:     s.kind,
		Parent:   s.parent,
		Selector: s.selector,
		Count:    a.count,
		Sum:      a.sum,
		Min:      a.min,
		Max:      a.max,
		Trues:    a.trues,
		Value:    a.last,
		hist:     a.hist,
	}
}
