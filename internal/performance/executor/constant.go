package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConstantVUs keeps a fixed number of VUs iterating for a duration.
//
// All VUs are spawned at start. Every tick the executor re-checks the
// running count, so the population stays at exactly VUs for the whole
// duration.
//
// Example:
//
//	scenario:
//	  executor: constant
//	  vus: 20
//	  duration: 1m
type ConstantVUs struct {
	config *Config
	ctrl   *controller
}

// NewConstantVUs creates a constant VUs executor.
func NewConstantVUs(config *Config, logger *zap.Logger) (*ConstantVUs, error) {
	if config.Kind != KindConstant {
		return nil, fmt.Errorf("invalid config type: expected %s, got %s", KindConstant, config.Kind)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &ConstantVUs{config: config}
	e.ctrl = newController(config, logger, func(time.Duration) int { return config.VUs })
	return e, nil
}

// Kind returns the executor type.
func (e *ConstantVUs) Kind() Kind {
	return KindConstant
}

// Run spawns VUs and blocks until the duration elapses and VUs are drained.
func (e *ConstantVUs) Run(ctx context.Context, vus VUController) error {
	return e.ctrl.run(ctx, vus)
}

// Stats returns executor statistics.
func (e *ConstantVUs) Stats() Stats {
	return e.ctrl.stats()
}
