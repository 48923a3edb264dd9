// Package metrics aggregates load test samples into named statistical series.
//
// Four series kinds are supported:
//   - Counter: a running sum of sample values
//   - Gauge: the most recent value (by sample timestamp), plus min and max
//   - Rate: the fraction of non-zero samples over all samples
//   - Trend: a distribution with min, max, avg, median and percentiles
//
// Samples are recorded concurrently by many virtual users through a
// Collector. Aggregation happens at record time so the collector's memory
// footprint does not grow with the number of samples.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies the aggregation applied to a series.
type Kind int

const (
	// Counter sums sample values.
	Counter Kind = iota
	// Gauge keeps the latest value.
	Gauge
	// Rate tracks the ratio of non-zero samples.
	Rate
	// Trend tracks the value distribution.
	Trend
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name into a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	case "rate":
		return Rate, nil
	case "trend":
		return Trend, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", name)
	}
}

var (
	// ErrFrozen is returned when recording into a sealed collector.
	ErrFrozen = errors.New("metrics collector is frozen")

	// ErrKindMismatch is returned when a sample's kind differs from the
	// kind the series was created with.
	ErrKindMismatch = errors.New("metric kind mismatch")

	// ErrEmptyName is returned for samples without a metric name.
	ErrEmptyName = errors.New("metric name is required")
)

// Tags are key/value labels attached to a sample.
type Tags map[string]string

// Matches reports whether every selector tag is present with the same value.
func (t Tags) Matches(selector Tags) bool {
	for k, v := range selector {
		if t[k] != v {
			return false
		}
	}
	return true
}

// String renders tags as "k1:v1,k2:v2" with sorted keys.
func (t Tags) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+t[k])
	}
	return strings.Join(parts, ",")
}

// Sample is a single observation. Samples are values; once handed to the
// collector they are never modified.
type Sample struct {
	Metric string
	Kind   Kind
	Value  float64
	Tags   Tags
	Time   time.Time
}

// Bool converts an outcome into a rate sample value.
func Bool(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// SubmetricName builds the canonical name of a tag-filtered view of a
// parent metric, e.g. "http_req_duration{status:200}".
func SubmetricName(parent string, selector Tags) string {
	if len(selector) == 0 {
		return parent
	}
	return parent + "{" + selector.String() + "}"
}

// ParseSubmetric splits "name{k:v,k2:v2}" into its parent and selector.
// ok is false when name carries no selector.
func ParseSubmetric(name string) (parent string, selector Tags, ok bool, err error) {
	open := strings.IndexByte(name, '{')
	if open < 0 {
		return name, nil, false, nil
	}
	if !strings.HasSuffix(name, "}") || open == 0 {
		return "", nil, false, fmt.Errorf("malformed submetric %q", name)
	}

	parent = strings.TrimSpace(name[:open])
	body := strings.TrimSpace(name[open+1 : len(name)-1])
	if body == "" {
		return "", nil, false, fmt.Errorf("submetric %q has an empty selector", name)
	}

	selector = make(Tags)
	for _, part := range strings.Split(body, ",") {
		k, v, found := strings.Cut(part, ":")
		k = strings.TrimSpace(k)
		if !found || k == "" {
			return "", nil, false, fmt.Errorf("submetric %q: bad selector %q", name, part)
		}
		selector[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return parent, selector, true, nil
}
