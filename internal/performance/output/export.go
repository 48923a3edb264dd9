package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Summary is the machine-readable form of a run result.
type Summary struct {
	RunID           string    `json:"runId"`
	Scenario        string    `json:"scenario"`
	Status          string    `json:"status"`
	Passed          bool      `json:"passed"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationSeconds float64   `json:"durationSeconds"`

	Executor string `json:"executor,omitempty"`
	MaxVUs   int    `json:"maxVUs"`
	Seed     int64  `json:"seed"`

	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`
	Interrupted      int64 `json:"interruptedIterations"`

	AbortedBy     string `json:"abortedBy,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
	SetupError    string `json:"setupError,omitempty"`
	TeardownError string `json:"teardownError,omitempty"`

	RateLimit *RateLimitSummary `json:"rateLimit,omitempty"`

	Metrics    map[string]MetricSummary `json:"metrics"`
	Thresholds []ThresholdSummary       `json:"thresholds,omitempty"`
}

// RateLimitSummary reports the request cap of a rate-limited run.
type RateLimitSummary struct {
	Rate             float64 `json:"rate"`
	Granted          int64   `json:"granted"`
	TotalWaitSeconds float64 `json:"totalWaitSeconds"`
}

// MetricSummary holds the aggregates of one series.
type MetricSummary struct {
	Type       string             `json:"type"`
	Values     map[string]float64 `json:"values"`
	Thresholds map[string]bool    `json:"thresholds,omitempty"`
}

// ThresholdSummary is the outcome of one threshold.
type ThresholdSummary struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Passed      bool    `json:"passed"`
	Observed    float64 `json:"observed"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	Undefined   bool    `json:"undefined,omitempty"`
}

// NewSummary builds the machine-readable summary of r.
func NewSummary(r *engine.Result) *Summary {
	s := &Summary{
		RunID:            r.ID,
		Scenario:         r.Scenario,
		Status:           string(r.Status),
		Passed:           r.Passed && r.Status == engine.StatusSealed,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		DurationSeconds:  r.Duration.Seconds(),
		MaxVUs:           r.MaxVUs,
		Seed:             r.Seed,
		Iterations:       r.Iterations,
		FailedIterations: r.FailedIterations,
		Interrupted:      r.Interrupted,
		Cancelled:        r.Cancelled,
		Metrics:          map[string]MetricSummary{},
	}
	if r.Config != nil {
		s.Executor = string(r.Config.Kind)
	}
	if r.AbortedBy != nil {
		s.AbortedBy = r.AbortedBy.Threshold.String()
	}
	if r.RateLimit.Rate > 0 {
		s.RateLimit = &RateLimitSummary{
			Rate:             r.RateLimit.Rate,
			Granted:          r.RateLimit.Granted,
			TotalWaitSeconds: r.RateLimit.TotalWait.Seconds(),
		}
	}
	if r.SetupError != nil {
		s.SetupError = r.SetupError.Error()
	}
	if r.TeardownError != nil {
		s.TeardownError = r.TeardownError.Error()
	}

	if r.Snapshot != nil {
		for _, name := range r.Snapshot.Names() {
			series, _ := r.Snapshot.Get(name)
			s.Metrics[name] = MetricSummary{
				Type:   series.Kind.String(),
				Values: seriesValues(series, r.Snapshot),
			}
		}
	}

	for _, t := range r.Thresholds {
		s.Thresholds = append(s.Thresholds, ThresholdSummary{
			Metric:      t.Threshold.Metric,
			Expression:  t.Threshold.Expression,
			Passed:      t.Passed,
			Observed:    t.Observed,
			AbortOnFail: t.Threshold.AbortOnFail,
			Undefined:   t.Undefined,
		})
		if m, ok := s.Metrics[t.Threshold.Metric]; ok {
			if m.Thresholds == nil {
				m.Thresholds = map[string]bool{}
			}
			m.Thresholds[t.Threshold.Expression] = t.Passed
			s.Metrics[t.Threshold.Metric] = m
		}
	}
	return s
}

func seriesValues(s *metrics.SeriesSnapshot, snap *metrics.Snapshot) map[string]float64 {
	switch s.Kind {
	case metrics.Rate:
		return map[string]float64{
			"rate":   s.Rate(),
			"passes": float64(s.Trues),
			"fails":  float64(s.Fails()),
		}
	case metrics.Counter:
		return map[string]float64{
			"count": s.Sum,
			"rate":  s.PerSecond(snap.Elapsed),
		}
	case metrics.Gauge:
		return map[string]float64{
			"value": s.Value,
			"min":   s.Min,
			"max":   s.Max,
		}
	default:
		return map[string]float64{
			"avg":   s.Avg(),
			"min":   s.Min,
			"med":   s.Med(),
			"max":   s.Max,
			"p(90)": s.Percentile(90),
			"p(95)": s.Percentile(95),
			"p(99)": s.Percentile(99),
			"count": float64(s.Count),
		}
	}
}

// WriteJSON writes the summary of r as indented JSON.
func WriteJSON(w io.Writer, r *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewSummary(r))
}

// ExportFile writes the JSON summary of r to path.
func ExportFile(path string, r *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
