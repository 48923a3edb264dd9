package engine

import (
	"time"

	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// Result is the outcome of a run.
type Result struct {
	// ID uniquely identifies the run
	ID       string
	Scenario string
	Status   Status
	Config   *executor.Config

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Snapshot is the sealed metric state (nil when setup failed)
	Snapshot *metrics.Snapshot

	Thresholds []threshold.Result
	Passed     bool

	// AbortedBy is the abort-on-fail threshold that stopped the run early
	AbortedBy *threshold.Result

	// Cancelled is set when the caller's context ended the run early
	Cancelled bool

	SetupError    error
	TeardownError error

	Iterations       int64
	FailedIterations int64
	Interrupted      int64
	MaxVUs           int

	// Seed reproduces the VU random sources of this run
	Seed int64

	Executor executor.Stats

	// RateLimit is zero when no request-rate cap was set
	RateLimit rate.Stats
}

// Aborted reports whether an abort-on-fail threshold stopped the run.
func (r *Result) Aborted() bool {
	return r.AbortedBy != nil
}
