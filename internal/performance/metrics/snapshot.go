package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SeriesSnapshot is an immutable view of one series at a point in time.
type SeriesSnapshot struct {
	Name string
	Kind Kind

	// Parent and Selector are set for submetrics.
	Parent   string
	Selector Tags

	Count int64
	Sum   float64
	Min   float64
	Max   float64

	// Trues is the number of non-zero samples of a rate series.
	Trues int64

	// Value is the latest value of a gauge series.
	Value float64

	hist *hdrhistogram.Histogram
}

// Rate returns trues/total, or 0 for an empty series.
func (s *SeriesSnapshot) Rate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Trues) / float64(s.Count)
}

// Fails returns the number of zero samples of a rate series.
func (s *SeriesSnapshot) Fails() int64 {
	return s.Count - s.Trues
}

// Avg returns the arithmetic mean of all samples.
func (s *SeriesSnapshot) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Med returns the 50th percentile.
func (s *SeriesSnapshot) Med() float64 {
	return s.Percentile(50)
}

// Percentile returns the value at percentile p (0-100) of a trend series.
//
// The result carries the bounded relative error of the underlying HDR
// histogram and is clamped into the exact [Min, Max] range.
func (s *SeriesSnapshot) Percentile(p float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))

	v := float64(s.hist.ValueAtQuantile(p)) / trendScale
	if v < s.Min {
		v = s.Min
	}
	if v > s.Max {
		v = s.Max
	}
	return v
}

// PerSecond returns Sum divided by the given elapsed time.
func (s *SeriesSnapshot) PerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return s.Sum / elapsed.Seconds()
}

// Snapshot is a consistent, read-only copy of every series in a collector.
type Snapshot struct {
	// Time is when the snapshot was taken.
	Time time.Time

	// Elapsed is the time between collector start and Time, or the freeze
	// time for a sealed collector.
	Elapsed time.Duration

	// Final is true when taken after the collector was frozen.
	Final bool

	Series map[string]*SeriesSnapshot
}

// Get returns the named series.
func (s *Snapshot) Get(name string) (*SeriesSnapshot, bool) {
	if s == nil {
		return nil, false
	}
	series, ok := s.Series[name]
	return series, ok
}

// Names returns the series names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Series))
	for name := range s.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
