package threshold

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Result is the outcome of evaluating one threshold.
type Result struct {
	Threshold Threshold
	Passed    bool
	Observed  float64
	Message   string

	// Undefined is set when the snapshot has no series for the metric.
	Undefined bool
}

// Evaluate checks every threshold against snap. The snapshot's Elapsed is
// used for per-second counter rates.
func Evaluate(snap *metrics.Snapshot, ts []Threshold) []Result {
	if len(ts) == 0 {
		return nil
	}

	results := make([]Result, 0, len(ts))
	for _, t := range ts {
		results = append(results, evaluateOne(snap, t))
	}
	return results
}

// Passed reports whether every result passed. No results means pass.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func evaluateOne(snap *metrics.Snapshot, t Threshold) Result {
	series, ok := snap.Get(t.Metric)
	if !ok {
		return Result{
			Threshold: t,
			Undefined: true,
			Message:   fmt.Sprintf("✗ %s: undefined metric %q", t.Expression, t.Metric),
		}
	}

	observed, err := observe(series, t, snap)
	if err != nil {
		return Result{
			Threshold: t,
			Message:   fmt.Sprintf("✗ %s: %v", t.Expression, err),
		}
	}

	passed := compare(observed, t.Operator, t.Value)
	mark := "✓"
	if !passed {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Passed:    passed,
		Observed:  observed,
		Message:   fmt.Sprintf("%s %s: observed %s", mark, t.Expression, formatValue(observed)),
	}
}

func observe(s *metrics.SeriesSnapshot, t Threshold, snap *metrics.Snapshot) (float64, error) {
	if err := ValidFor(s.Kind, t); err != nil {
		return 0, err
	}

	switch s.Kind {
	case metrics.Counter:
		switch t.Aggregate {
		case AggRate:
			return s.PerSecond(snap.Elapsed), nil
		default:
			return s.Sum, nil
		}

	case metrics.Gauge:
		switch t.Aggregate {
		case AggMin:
			return s.Min, nil
		case AggMax:
			return s.Max, nil
		default:
			return s.Value, nil
		}

	case metrics.Rate:
		if t.Aggregate == AggCount {
			return float64(s.Count), nil
		}
		return s.Rate(), nil

	case metrics.Trend:
		switch t.Aggregate {
		case AggAvg:
			return s.Avg(), nil
		case AggMin:
			return s.Min, nil
		case AggMax:
			return s.Max, nil
		case AggMed:
			return s.Med(), nil
		case AggCount:
			return float64(s.Count), nil
		case AggSum:
			return s.Sum, nil
		default:
			return s.Percentile(t.Percentile), nil
		}
	}
	return 0, fmt.Errorf("unsupported metric kind %s", s.Kind)
}

// ValidFor returns an error when t's aggregate cannot be computed on a
// series of the given kind.
func ValidFor(kind metrics.Kind, t Threshold) error {
	if slices.Contains(validAggregates[kind], t.Aggregate) {
		return nil
	}
	return fmt.Errorf("aggregate %q is not valid for %s metric %s", aggregateName(t), kind, t.Metric)
}

func aggregateName(t Threshold) string {
	if t.Aggregate == AggPct {
		return "p(" + strconv.FormatFloat(t.Percentile, 'f', -1, 64) + ")"
	}
	return t.Aggregate
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
