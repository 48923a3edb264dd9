package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/tracing"
)

// Defaults applied when a scenario leaves a field empty.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultSetupTimeout   = 10 * time.Second
	DefaultExpectStatus   = 200
)

// Overrides replace parts of a scenario from the command line or the
// environment. Zero values leave the scenario untouched.
type Overrides struct {
	VUs      int
	Duration time.Duration
	Seed     *int64
	MaxRPS   float64
	Tracing  *tracing.Config
}

// Apply applies o to s and revalidates it.
//
// Setting VUs or Duration replaces the load profile with a constant
// executor: the overridden values are used, and a missing one is taken
// from the scenario (for a ramping scenario, its peak VUs and total
// duration).
func (s *Scenario) Apply(o Overrides) error {
	if o.VUs < 0 || o.Duration < 0 {
		errs := &ValidationErrors{}
		if o.VUs < 0 {
			errs.Add("vus", "cannot be negative")
		}
		if o.Duration < 0 {
			errs.Add("duration", "cannot be negative")
		}
		return errs
	}

	if o.VUs > 0 || o.Duration > 0 {
		current, err := s.ExecutorConfig()
		vus, dur := o.VUs, o.Duration
		if err == nil {
			if vus == 0 {
				vus = current.MaxVUs()
			}
			if dur == 0 {
				dur = current.TotalDuration()
			}
		}
		s.Load = LoadConfig{
			Executor:     string(executor.KindConstant),
			VUs:          vus,
			Duration:     Duration(dur),
			GracefulStop: s.Load.GracefulStop,
		}
	}
	if o.Seed != nil {
		seed := *o.Seed
		s.Seed = &seed
	}
	if o.MaxRPS > 0 {
		s.Settings.MaxRPS = o.MaxRPS
	}
	if o.Tracing != nil {
		s.Tracing = o.Tracing
	}
	return s.Validate()
}

// ExecutorConfig converts the load section into an executor configuration.
func (s *Scenario) ExecutorConfig() (*executor.Config, error) {
	kind, err := executor.ParseKind(s.Load.Executor)
	if err != nil {
		return nil, err
	}

	cfg := &executor.Config{
		Name:         s.ScenarioName(),
		Kind:         kind,
		VUs:          s.Load.VUs,
		Duration:     s.Load.Duration.Std(),
		StartVUs:     s.Load.StartVUs,
		GracefulStop: s.Load.GracefulStop.Std(),
	}
	for _, st := range s.Load.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: st.Duration.Std(),
			Target:   st.Target,
			Name:     st.Name,
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return cfg, nil
}

// ScenarioName returns the scenario name used in metric tags.
func (s *Scenario) ScenarioName() string {
	if s.Name != "" {
		return s.Name
	}
	return "default"
}

// Think converts the think time section. A fixed duration becomes a range
// with equal bounds.
func (s *Scenario) Think() performance.ThinkTime {
	if s.ThinkTime == nil {
		return performance.ThinkTime{}
	}
	if s.ThinkTime.Duration > 0 {
		d := s.ThinkTime.Duration.Std()
		return performance.ThinkTime{Min: d, Max: d}
	}
	return performance.ThinkTime{Min: s.ThinkTime.Min.Std(), Max: s.ThinkTime.Max.Std()}
}

// HTTPConfig returns the client configuration for the scenario.
func (s *Scenario) HTTPConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = s.Request.Timeout.Or(DefaultRequestTimeout)
	cfg.InsecureSkipVerify = s.Settings.InsecureSkipVerify
	if s.Settings.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.Settings.MaxIdleConnsPerHost
	}
	return cfg
}

// TracingConfig returns the tracing configuration, or a disabled one.
func (s *Scenario) TracingConfig() tracing.Config {
	if s.Tracing == nil {
		return tracing.Config{}
	}
	return *s.Tracing
}
