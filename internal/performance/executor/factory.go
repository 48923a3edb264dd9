package executor

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates the executor matching cfg.Kind.
//
// Supported kinds:
//   - "constant" - Fixed number of VUs for a duration
//   - "ramping" - VU count ramps up/down according to stages
func New(cfg *Config, logger *zap.Logger) (Executor, error) {
	switch cfg.Kind {
	case KindConstant:
		return NewConstantVUs(cfg, logger)
	case KindRamping:
		return NewRampingVUs(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Kind)
	}
}

// Description provides documentation for an executor kind.
type Description struct {
	Kind        Kind
	Name        string
	Description string
	UseCases    []string
}

// Describe returns documentation for an executor kind, or nil.
func Describe(kind Kind) *Description {
	switch kind {
	case KindConstant:
		return &Description{
			Kind:        KindConstant,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of VUs for a specified duration. Each VU iterates back to back, pausing only for think time (closed model).",
			UseCases: []string{
				"Baseline load testing",
				"Throughput at N concurrent users",
				"Soak testing",
			},
		}
	case KindRamping:
		return &Description{
			Kind:        KindRamping,
			Name:        "Ramping VUs",
			Description: "Moves the VU count along a piecewise-linear stage profile, draining the newest VUs first on the way down.",
			UseCases: []string{
				"Stress testing with gradual load increase",
				"Finding the breaking point of a system",
				"Verifying recovery after a spike",
			},
		}
	default:
		return nil
	}
}
