package executor

import (
	"math"
	"time"
)

// TargetAt returns the desired VU count at elapsed time into the run.
//
// For a ramping configuration the count moves linearly between stage
// boundaries: a stage starts at the previous stage's target (StartVUs for
// the first stage) and ends at its own Target. The result is rounded to
// the nearest integer. A zero-duration stage is an instantaneous step.
// Past the last stage the final target holds.
func (c *Config) TargetAt(elapsed time.Duration) int {
	if c.Kind == KindConstant {
		return c.VUs
	}

	prev := c.StartVUs
	var stageStart time.Duration
	for _, stage := range c.Stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			return int(math.Round(float64(prev) + float64(stage.Target-prev)*progress))
		}
		prev = stage.Target
		stageStart = stageEnd
	}
	return prev
}

// StageAt returns the index of the stage active at elapsed, or
// len(Stages)-1 once the profile has completed. It returns -1 for a
// configuration without stages.
func (c *Config) StageAt(elapsed time.Duration) int {
	var stageStart time.Duration
	for i, stage := range c.Stages {
		stageStart += stage.Duration
		if elapsed < stageStart {
			return i
		}
	}
	return len(c.Stages) - 1
}
