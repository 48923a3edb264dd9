// Package executor decides how many virtual users run at each moment of a
// test and drives a VU controller towards that number.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/performance"
)

// Kind identifies the type of executor.
type Kind string

const (
	// KindConstant runs a fixed number of VUs for a duration.
	KindConstant Kind = "constant"

	// KindRamping ramps VU count up and down according to stages.
	KindRamping Kind = "ramping"
)

// ParseKind accepts the canonical names plus the "-vus" suffixed aliases.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "constant", "constant-vus":
		return KindConstant, nil
	case "ramping", "ramping-vus":
		return KindRamping, nil
	default:
		return "", fmt.Errorf("unknown executor %q (want constant or ramping)", name)
	}
}

const (
	// DefaultGracefulStop is how long drained VUs may take to finish their
	// current iteration before being force-stopped.
	DefaultGracefulStop = 30 * time.Second

	// DefaultTickInterval is how often the VU count is reconciled.
	DefaultTickInterval = 100 * time.Millisecond

	// forceStopWait bounds the wait for VUs after a forced stop.
	forceStopWait = 5 * time.Second
)

// VUController is the part of the VU scheduler an executor drives.
// *performance.Scheduler implements it.
type VUController interface {
	Spawn() *performance.VirtualUser
	DrainNewest(n int) int
	DrainAll()
	ForceStop()
	Wait(timeout time.Duration) bool
	Running() int
	RecordVUs()
}

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Kind returns the executor type.
	Kind() Kind

	// Run drives vus until the configured duration has elapsed or ctx is
	// cancelled, then drains every VU and waits for them within the
	// graceful stop window. Cancelling ctx never interrupts an iteration
	// in flight; only the graceful stop timeout does.
	Run(ctx context.Context, vus VUController) error

	// Stats returns a point-in-time view of executor progress.
	Stats() Stats
}

// Stage is one segment of a ramping profile: the VU target moves linearly
// from the previous stage's target to Target over Duration.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of this stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name used in logs and tags
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Kind Kind `json:"executor" yaml:"executor"`

	// Constant executor
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Ramping executor
	StartVUs int     `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is the hard drain timeout (default: 30s)
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is the reconcile interval (default: 100ms)
	TickInterval time.Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.TickInterval < 0 {
		return &ValidationError{Field: "tickInterval", Message: "tickInterval must be >= 0"}
	}

	switch c.Kind {
	case KindConstant:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case KindRamping:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, st := range c.Stages {
			if st.Duration < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
			}
			if st.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
			}
		}

	case "":
		return &ValidationError{Field: "executor", Message: "executor type is required"}

	default:
		return &ValidationError{Field: "executor", Message: "unknown executor type: " + string(c.Kind)}
	}

	return nil
}

// TotalDuration is the time from start until VUs are drained.
func (c *Config) TotalDuration() time.Duration {
	switch c.Kind {
	case KindConstant:
		return c.Duration
	case KindRamping:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return 0
	}
}

// MaxVUs is the largest target the configuration ever asks for.
func (c *Config) MaxVUs() int {
	if c.Kind == KindConstant {
		return c.VUs
	}
	peak := c.StartVUs
	for _, st := range c.Stages {
		if st.Target > peak {
			peak = st.Target
		}
	}
	return peak
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *Config) tickInterval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return DefaultTickInterval
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`
	Progress      float64       `json:"progress"`

	RunningVUs int `json:"runningVUs"`
	TargetVUs  int `json:"targetVUs"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`

	// Finished is set once Run has returned
	Finished bool `json:"finished"`

	// Cancelled is set when the context ended the run early
	Cancelled bool `json:"cancelled"`

	// ForceStopped is set when the graceful stop window expired
	ForceStopped bool `json:"forceStopped"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
