package performance

import (
	"context"
	"math/rand"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// IterationFunc is the work a VU performs once per iteration.
//
// A returned error or a panic marks the iteration as failed; it never
// stops the VU or the run. Implementations should pass ctx to every
// blocking call so a hard stop can interrupt them.
type IterationFunc func(ctx context.Context, it *Iteration) error

// Iteration is the per-call context handed to an IterationFunc. It is
// owned by a single VU goroutine and must not be shared.
type Iteration struct {
	// VU is the ID of the virtual user running this iteration
	VU int

	// Number is the VU-local iteration index, starting at 0
	Number int64

	// Scenario is the name of the running scenario
	Scenario string

	// Rand is the VU's random source, seeded deterministically from the
	// run seed and VU ID
	Rand *rand.Rand

	// Data is the value returned by the setup hook
	Data any

	// HTTP issues requests and records their metrics
	HTTP *HTTP

	collector    *metrics.Collector
	tags         metrics.Tags
	checksFailed bool
}

// Check records a named boolean assertion into the "checks" rate and
// returns ok.
func (it *Iteration) Check(name string, ok bool) bool {
	if !ok {
		it.checksFailed = true
	}
	tags := it.withTags(metrics.Tags{"check": name})
	_ = it.collector.Add(metrics.Sample{
		Metric: MetricChecks,
		Kind:   metrics.Rate,
		Value:  metrics.Bool(ok),
		Tags:   tags,
		Time:   time.Now(),
	})
	return ok
}

// ChecksPassed reports whether every check in this iteration passed.
func (it *Iteration) ChecksPassed() bool {
	return !it.checksFailed
}

// Record adds a sample to a custom metric. Scenario tags are merged
// into tags.
func (it *Iteration) Record(metric string, kind metrics.Kind, value float64, tags metrics.Tags) error {
	return it.collector.Add(metrics.Sample{
		Metric: metric,
		Kind:   kind,
		Value:  value,
		Tags:   it.withTags(tags),
		Time:   time.Now(),
	})
}

func (it *Iteration) withTags(extra metrics.Tags) metrics.Tags {
	tags := make(metrics.Tags, len(it.tags)+len(extra))
	for k, v := range it.tags {
		tags[k] = v
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// ThinkTime is the pause a VU takes between iterations. A zero Max means
// a constant pause of Min; otherwise the pause is uniform in [Min, Max].
type ThinkTime struct {
	Min time.Duration
	Max time.Duration
}

func (t ThinkTime) next(r *rand.Rand) time.Duration {
	if t.Max <= t.Min {
		return t.Min
	}
	return t.Min + time.Duration(r.Int63n(int64(t.Max-t.Min)+1))
}
