package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// Default hook timeouts.
const (
	DefaultSetupTimeout    = 60 * time.Second
	DefaultTeardownTimeout = 60 * time.Second
)

// SetupFunc runs once before any VU starts. Its result is handed to every
// iteration as Iteration.Data and to the teardown hook. Requests made
// through h are not recorded in run metrics.
type SetupFunc func(ctx context.Context, h *performance.HTTP) (any, error)

// TeardownFunc runs once after the run is sealed.
type TeardownFunc func(ctx context.Context, h *performance.HTTP, data any) error

// Hooks are the optional lifecycle hooks of a run.
type Hooks struct {
	Setup    SetupFunc
	Teardown TeardownFunc

	// SetupTimeout bounds Setup (default: DefaultSetupTimeout)
	SetupTimeout time.Duration

	// TeardownTimeout bounds Teardown (default: DefaultTeardownTimeout)
	TeardownTimeout time.Duration
}

func (h Hooks) setupTimeout() time.Duration {
	if h.SetupTimeout > 0 {
		return h.SetupTimeout
	}
	return DefaultSetupTimeout
}

func (h Hooks) teardownTimeout() time.Duration {
	if h.TeardownTimeout > 0 {
		return h.TeardownTimeout
	}
	return DefaultTeardownTimeout
}

func (e *Engine) runSetup(ctx context.Context, h *performance.HTTP) (data any, err error) {
	if e.hooks.Setup == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.hooks.setupTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("setup panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return e.hooks.Setup(ctx, h)
}

// runTeardown runs even when the caller's context is already cancelled,
// bounded by the teardown timeout.
func (e *Engine) runTeardown(ctx context.Context, h *performance.HTTP, data any) (err error) {
	if e.hooks.Teardown == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.hooks.teardownTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("teardown panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("teardown panicked: %v", r)
		}
	}()
	return e.hooks.Teardown(ctx, h, data)
}
