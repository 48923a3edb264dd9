package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// controller is the reconcile loop shared by both executors. It keeps the
// number of running VUs equal to target(elapsed) on every tick.
type controller struct {
	config *Config
	logger *zap.Logger
	target func(elapsed time.Duration) int

	startTime atomic.Int64
	running   atomic.Int32
	targetVUs atomic.Int32
	stage     atomic.Int32

	mu           sync.Mutex
	finished     bool
	cancelled    bool
	forceStopped bool
}

func newController(config *Config, logger *zap.Logger, target func(time.Duration) int) *controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &controller{config: config, logger: logger, target: target}
	c.stage.Store(-1)
	return c
}

func (c *controller) run(ctx context.Context, vus VUController) error {
	start := time.Now()
	c.startTime.Store(start.UnixNano())
	total := c.config.TotalDuration()

	c.logger.Info("executor started",
		zap.String("executor", string(c.config.Kind)),
		zap.Duration("duration", total),
		zap.Int("maxVUs", c.config.MaxVUs()))

	c.reconcile(vus, 0)

	ticker := time.NewTicker(c.config.tickInterval())
	defer ticker.Stop()
	deadline := time.NewTimer(total)
	defer deadline.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cancelled = true
			c.mu.Unlock()
			c.logger.Info("executor cancelled, draining VUs", zap.Duration("elapsed", time.Since(start)))
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			c.reconcile(vus, time.Since(start))
		}
	}

	c.shutdown(vus)
	return nil
}

// reconcile spawns or drains VUs so the running count matches the target.
// Draining removes the most recently spawned VUs first.
func (c *controller) reconcile(vus VUController, elapsed time.Duration) {
	target := c.target(elapsed)
	c.targetVUs.Store(int32(target))

	if stage := int32(c.config.StageAt(elapsed)); stage != c.stage.Load() && len(c.config.Stages) > 0 {
		c.stage.Store(stage)
		st := c.config.Stages[stage]
		c.logger.Info("stage started",
			zap.Int("stage", int(stage)),
			zap.String("name", st.Name),
			zap.Int("target", st.Target),
			zap.Duration("duration", st.Duration))
	}

	running := vus.Running()
	switch {
	case target > running:
		for i := running; i < target; i++ {
			if vus.Spawn() == nil {
				break
			}
		}
	case target < running:
		vus.DrainNewest(running - target)
	}

	c.running.Store(int32(vus.Running()))
	vus.RecordVUs()
}

// shutdown drains every VU and waits up to the graceful stop window before
// forcing in-flight iterations to abort.
func (c *controller) shutdown(vus VUController) {
	vus.DrainAll()
	c.running.Store(0)

	grace := c.config.gracefulStop()
	if !vus.Wait(grace) {
		c.mu.Lock()
		c.forceStopped = true
		c.mu.Unlock()

		c.logger.Warn("graceful stop timed out, interrupting iterations", zap.Duration("gracefulStop", grace))
		vus.ForceStop()
		if !vus.Wait(forceStopWait) {
			c.logger.Error("VUs did not exit after forced stop")
		}
	}
	vus.RecordVUs()

	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
}

func (c *controller) stats() Stats {
	s := Stats{
		TotalDuration: c.config.TotalDuration(),
		RunningVUs:    int(c.running.Load()),
		TargetVUs:     int(c.targetVUs.Load()),
		CurrentStage:  int(c.stage.Load()),
		TotalStages:   len(c.config.Stages),
	}

	if started := c.startTime.Load(); started != 0 {
		s.StartTime = time.Unix(0, started)
		s.Elapsed = time.Since(s.StartTime)
	}
	if s.TotalDuration > 0 {
		s.Progress = float64(s.Elapsed) / float64(s.TotalDuration)
		if s.Progress > 1 {
			s.Progress = 1
		}
	}
	if s.CurrentStage >= 0 && s.CurrentStage < len(c.config.Stages) {
		s.CurrentStageName = c.config.Stages[s.CurrentStage].Name
	}

	c.mu.Lock()
	s.Finished = c.finished
	s.Cancelled = c.cancelled
	s.ForceStopped = c.forceStopped
	c.mu.Unlock()
	return s
}
