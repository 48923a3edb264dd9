// Package threshold parses pass/fail criteria such as "p(95)<500" and
// evaluates them against a metrics snapshot.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Aggregate names accepted on the left-hand side of an expression.
const (
	AggRate  = "rate"
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggMed   = "med"
	AggValue = "value"
	AggPct   = "p"
)

// validAggregates lists the aggregates each series kind supports.
var validAggregates = map[metrics.Kind][]string{
	metrics.Counter: {AggCount, AggSum, AggRate},
	metrics.Gauge:   {AggValue, AggMin, AggMax},
	metrics.Rate:    {AggRate, AggCount},
	metrics.Trend:   {AggAvg, AggMin, AggMax, AggMed, AggPct, AggCount, AggSum},
}

var exprPattern = regexp.MustCompile(
	`^([a-z]+|p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|p[0-9]+(?:\.[0-9]+)?)\s*(===|==|!=|<=|>=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)\s*(ms|s)?$`)

// ErrInvalid is wrapped by every parse error.
var ErrInvalid = errors.New("invalid threshold")

// Threshold is one parsed criterion on a metric or submetric.
type Threshold struct {
	// Metric is the series name, possibly a submetric like
	// "http_req_duration{status:200}".
	Metric string

	// Expression is the source text, e.g. "p(95)<500".
	Expression string

	Aggregate  string
	Percentile float64
	Operator   string
	Value      float64

	// AbortOnFail stops the run as soon as the threshold fails mid-run.
	AbortOnFail bool

	// DelayAbortEval postpones mid-run evaluation of an abort threshold.
	DelayAbortEval time.Duration
}

// String returns "metric: expression".
func (t Threshold) String() string {
	return t.Metric + ": " + t.Expression
}

// Submetric reports the parent and selector when Metric names a submetric.
func (t Threshold) Submetric() (parent string, selector metrics.Tags, ok bool) {
	parent, selector, ok, err := metrics.ParseSubmetric(t.Metric)
	if err != nil {
		return "", nil, false
	}
	return parent, selector, ok
}

// Definition is an unparsed threshold as written in a scenario file.
type Definition struct {
	Expression     string        `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool          `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// Parse parses expr for metric.
//
// Expressions have the form "<aggregate> <op> <number>", where aggregate is
// one of rate, count, sum, avg, min, max, med, value, p(N) or pN, and op is
// one of <, <=, >, >=, ==, ===, !=. The number may carry an "ms" or "s"
// suffix; seconds are converted to milliseconds.
func Parse(metric, expr string) (Threshold, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return Threshold{}, fmt.Errorf("%w: metric name is required", ErrInvalid)
	}
	parent, selector, isSub, err := metrics.ParseSubmetric(metric)
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if isSub {
		metric = metrics.SubmetricName(parent, selector)
	}

	src := strings.TrimSpace(expr)
	if src == "" {
		return Threshold{}, fmt.Errorf("%w: expression for %s cannot be empty", ErrInvalid, metric)
	}

	m := exprPattern.FindStringSubmatch(src)
	if m == nil {
		return Threshold{}, fmt.Errorf("%w: %q (expected e.g. 'p(95)<500' or 'rate<0.01')", ErrInvalid, src)
	}

	t := Threshold{Metric: metric, Expression: src, Operator: m[2]}

	agg := m[1]
	switch {
	case strings.HasPrefix(agg, "p(") || (strings.HasPrefix(agg, "p") && len(agg) > 1 && agg[1] >= '0' && agg[1] <= '9'):
		num := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(agg, "p"), "("), ")"))
		p, err := strconv.ParseFloat(num, 64)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("%w: percentile %q must be between 0 and 100", ErrInvalid, num)
		}
		t.Aggregate = AggPct
		t.Percentile = p
	case isAggregate(agg):
		t.Aggregate = agg
	default:
		return Threshold{}, fmt.Errorf("%w: unknown aggregate %q", ErrInvalid, agg)
	}

	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: bad value %q: %v", ErrInvalid, m[3], err)
	}
	if m[4] == "s" {
		v *= 1000
	}
	t.Value = v
	return t, nil
}

// ParseSet parses every definition, collecting all errors. The result is
// ordered by metric name, then by position within the metric.
func ParseSet(defs map[string][]Definition) ([]Threshold, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []Threshold
		errs []error
	)
	for _, name := range names {
		for i, d := range defs[name] {
			t, err := Parse(name, d.Expression)
			if err != nil {
				errs = append(errs, fmt.Errorf("thresholds.%s[%d]: %w", name, i, err))
				continue
			}
			if d.DelayAbortEval < 0 {
				errs = append(errs, fmt.Errorf("thresholds.%s[%d]: %w: delayAbortEval cannot be negative", name, i, ErrInvalid))
				continue
			}
			t.AbortOnFail = d.AbortOnFail
			t.DelayAbortEval = d.DelayAbortEval
			out = append(out, t)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Abortable returns the thresholds evaluated mid-run.
func Abortable(ts []Threshold) []Threshold {
	var out []Threshold
	for _, t := range ts {
		if t.AbortOnFail {
			out = append(out, t)
		}
	}
	return out
}

func isAggregate(name string) bool {
	switch name {
	case AggRate, AggCount, AggSum, AggAvg, AggMin, AggMax, AggMed, AggValue:
		return true
	}
	return false
}

func compare(observed float64, op string, want float64) bool {
	const epsilon = 1e-9

	switch op {
	case "<":
		return observed < want
	case "<=":
		return observed <= want || math.Abs(observed-want) < epsilon
	case ">":
		return observed > want
	case ">=":
		return observed >= want || math.Abs(observed-want) < epsilon
	case "==", "===":
		return math.Abs(observed-want) < epsilon
	case "!=":
		return math.Abs(observed-want) >= epsilon
	default:
		return false
	}
}
