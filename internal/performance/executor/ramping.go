package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RampingVUs ramps VU count up and down according to stages.
//
// The target is interpolated between stage boundaries on every tick, so
// the population follows a piecewise-linear curve instead of jumping at
// stage edges. When the target drops, the newest VUs are drained; they
// finish their current iteration before exiting.
//
// Example stages:
//
//	stages:
//	  - duration: 1m
//	    target: 10     # Ramp from startVUs to 10 VUs over 1m
//	  - duration: 3m
//	    target: 10     # Hold 10 VUs
//	  - duration: 1m
//	    target: 0      # Ramp down to 0 VUs
type RampingVUs struct {
	config *Config
	ctrl   *controller
}

// NewRampingVUs creates a ramping VUs executor.
func NewRampingVUs(config *Config, logger *zap.Logger) (*RampingVUs, error) {
	if config.Kind != KindRamping {
		return nil, fmt.Errorf("invalid config type: expected %s, got %s", KindRamping, config.Kind)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &RampingVUs{config: config}
	e.ctrl = newController(config, logger, config.TargetAt)
	return e, nil
}

// Kind returns the executor type.
func (e *RampingVUs) Kind() Kind {
	return KindRamping
}

// Run follows the stage profile and blocks until it completes and VUs are
// drained.
func (e *RampingVUs) Run(ctx context.Context, vus VUController) error {
	return e.ctrl.run(ctx, vus)
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() Stats {
	return e.ctrl.stats()
}
