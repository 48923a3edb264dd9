package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Options contains configuration for a Collector.
type Options struct {
	// Shards is the number of independently locked partitions per series
	// (default: 8).
	Shards int

	// WindowInterval is the width of a recent-history bucket (default: 1s).
	WindowInterval time.Duration

	// WindowBuckets is how many buckets each shard keeps (default: 10).
	// Window queries cannot look further back than
	// WindowInterval*WindowBuckets.
	WindowBuckets int

	// Histogram configures cumulative trend histograms.
	Histogram HistogramConfig

	// WindowHistogram configures the smaller per-bucket trend histograms.
	WindowHistogram HistogramConfig

	// Now is the clock used for snapshots (default: time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default collector configuration.
func DefaultOptions() Options {
	return Options{
		Shards:          8,
		WindowInterval:  time.Second,
		WindowBuckets:   10,
		Histogram:       HistogramConfig{Highest: 3600000000, SigFigs: 3},
		WindowHistogram: HistogramConfig{Highest: 3600000000, SigFigs: 2},
		Now:             time.Now,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.Shards <= 0 {
		o.Shards = def.Shards
	}
	if o.WindowInterval <= 0 {
		o.WindowInterval = def.WindowInterval
	}
	if o.WindowBuckets < 0 {
		o.WindowBuckets = 0
	}
	if o.Histogram.Highest <= 0 {
		o.Histogram.Highest = def.Histogram.Highest
	}
	if o.Histogram.SigFigs <= 0 {
		o.Histogram.SigFigs = def.Histogram.SigFigs
	}
	if o.WindowHistogram.Highest <= 0 {
		o.WindowHistogram.Highest = def.WindowHistogram.Highest
	}
	if o.WindowHistogram.SigFigs <= 0 {
		o.WindowHistogram.SigFigs = def.WindowHistogram.SigFigs
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type submetric struct {
	selector Tags
	series   *series
}

// Collector receives samples from many concurrent writers and aggregates
// them per series.
//
// # Thread Safety
//
// Add and Record may be called from any number of goroutines. Series state
// is split over shards, each with its own mutex, so writers to the same
// metric rarely contend. Snapshot and Window may run concurrently with
// writers. After Freeze returns no further sample is accepted, and every
// sample accepted before it is visible in later snapshots.
type Collector struct {
	opts Options

	// gate orders writers against Freeze.
	gate     sync.RWMutex
	frozen   bool
	frozenAt time.Time

	mu         sync.RWMutex
	series     map[string]*series
	submetrics map[string][]submetric

	start time.Time
}

// NewCollector creates a collector with default options.
func NewCollector() *Collector {
	return NewCollectorWithOptions(DefaultOptions())
}

// NewCollectorWithOptions creates a collector with custom options.
func NewCollectorWithOptions(opts Options) *Collector {
	opts.applyDefaults()
	return &Collector{
		opts:       opts,
		series:     make(map[string]*series),
		submetrics: make(map[string][]submetric),
		start:      opts.Now(),
	}
}

// Start returns the time the collector was created or last restarted.
func (c *Collector) Start() time.Time {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.start
}

// MarkStart resets the collector's reference time, typically when load
// generation begins after setup.
func (c *Collector) MarkStart(t time.Time) {
	c.gate.Lock()
	c.start = t
	c.gate.Unlock()
}

// Record records a value now. It is shorthand for Add.
func (c *Collector) Record(name string, kind Kind, value float64, tags Tags) error {
	return c.Add(Sample{Metric: name, Kind: kind, Value: value, Tags: tags, Time: c.opts.Now()})
}

// Add records a sample. The series is created on first use.
//
// Returns:
//   - ErrFrozen once the collector has been frozen
//   - ErrKindMismatch if the series exists with another kind
func (c *Collector) Add(s Sample) error {
	if s.Metric == "" {
		return ErrEmptyName
	}
	if s.Time.IsZero() {
		s.Time = c.opts.Now()
	}

	c.gate.RLock()
	defer c.gate.RUnlock()

	if c.frozen {
		return ErrFrozen
	}

	ser, subs, err := c.lookup(s.Metric, s.Kind)
	if err != nil {
		return err
	}

	ser.add(s.Value, s.Time)
	for _, sub := range subs {
		if sub.series != nil && s.Tags.Matches(sub.selector) {
			sub.series.add(s.Value, s.Time)
		}
	}
	return nil
}

func (c *Collector) lookup(name string, kind Kind) (*series, []submetric, error) {
	c.mu.RLock()
	ser, ok := c.series[name]
	subs := c.submetrics[name]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		ser, ok = c.series[name]
		if !ok {
			ser = newSeries(name, kind, &c.opts)
			c.series[name] = ser
			for i := range c.submetrics[name] {
				c.materialize(name, kind, &c.submetrics[name][i])
			}
		}
		subs = c.submetrics[name]
		c.mu.Unlock()
	}

	if ser.kind != kind {
		return nil, nil, fmt.Errorf("%w: %q is a %s, got %s", ErrKindMismatch, name, ser.kind, kind)
	}
	return ser, subs, nil
}

// materialize creates the series of a pending submetric once its parent's
// kind is known. Callers hold c.mu.
func (c *Collector) materialize(parent string, kind Kind, sub *submetric) {
	name := SubmetricName(parent, sub.selector)
	s := newSeries(name, kind, &c.opts)
	s.parent = parent
	s.selector = sub.selector
	sub.series = s
	c.series[name] = s
}

// AddSubmetric registers a tag-filtered view of parent and returns its name.
// Samples of parent whose tags match selector are also aggregated under the
// returned name. Submetrics only see samples recorded after registration,
// and appear in snapshots once the parent series exists.
func (c *Collector) AddSubmetric(parent string, selector Tags) string {
	name := SubmetricName(parent, selector)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.submetrics[parent] {
		if SubmetricName(parent, sub.selector) == name {
			return name
		}
	}

	sub := submetric{selector: selector}
	if p, ok := c.series[parent]; ok {
		c.materialize(parent, p.kind, &sub)
	}
	c.submetrics[parent] = append(c.submetrics[parent], sub)
	return name
}

// Freeze seals the collector. It blocks until in-flight writers finish and
// is idempotent.
func (c *Collector) Freeze() {
	c.gate.Lock()
	defer c.gate.Unlock()
	if !c.frozen {
		c.frozen = true
		c.frozenAt = c.opts.Now()
	}
}

// Frozen reports whether Freeze has been called.
func (c *Collector) Frozen() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.frozen
}

// Snapshot returns an immutable copy of every series. It may be called at
// any time, including while writers are active.
func (c *Collector) Snapshot() *Snapshot {
	c.gate.RLock()
	now := c.opts.Now()
	final := c.frozen
	if final {
		now = c.frozenAt
	}
	start := c.start
	c.gate.RUnlock()

	c.mu.RLock()
	all := make([]*series, 0, len(c.series))
	for _, s := range c.series {
		all = append(all, s)
	}
	c.mu.RUnlock()

	snap := &Snapshot{
		Time:    now,
		Elapsed: now.Sub(start),
		Final:   final,
		Series:  make(map[string]*SeriesSnapshot, len(all)),
	}
	for _, s := range all {
		snap.Series[s.name] = s.snapshot()
	}
	return snap
}

// Window aggregates the named series over the trailing span ending now.
// The span is effectively capped at WindowInterval*WindowBuckets.
func (c *Collector) Window(name string, span time.Duration) (*SeriesSnapshot, bool) {
	c.mu.RLock()
	s, ok := c.series[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.window(c.opts.Now(), span), true
}
