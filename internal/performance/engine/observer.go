package engine

import (
	"time"

	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Status is the lifecycle state of a run.
//
//	pending -> running -> draining -> sealed
//	pending -> failed
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDraining Status = "draining"
	StatusSealed   Status = "sealed"
	StatusFailed   Status = "failed"
)

// Event is a status change.
type Event struct {
	RunID  string
	Status Status
	Time   time.Time

	// Err is set when Status is StatusFailed
	Err error
}

// Observer is notified of every status change. Calls are made from the
// goroutine that changed the status and must not block.
type Observer interface {
	OnStatus(ev Event)
}

// Progress is a point-in-time view of a running test.
type Progress struct {
	RunID    string
	Scenario string
	Elapsed  time.Duration
	Executor executor.Stats

	// Iterations completed so far
	Iterations int64

	// Collector is the live collector, for windowed queries
	Collector *metrics.Collector
}

// ProgressObserver is an Observer that also receives periodic progress
// while the run is going.
type ProgressObserver interface {
	Observer
	OnProgress(p Progress)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// OnStatus calls f(ev).
func (f ObserverFunc) OnStatus(ev Event) {
	f(ev)
}
