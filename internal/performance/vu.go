// Package performance runs virtual users: concurrent loops that repeatedly
// invoke an iteration function against the system under test and record
// what happened into a metrics collector.
package performance

import (
	"sync"
	"sync/atomic"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateSpawning indicates the VU is registered but its goroutine has
	// not started iterating yet.
	VUStateSpawning VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateDraining indicates the VU will stop after its current iteration.
	VUStateDraining
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateSpawning:
		return "spawning"
	case VUStateRunning:
		return "running"
	case VUStateDraining:
		return "draining"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is a single simulated client.
//
// State moves forward only: spawning, running, draining, stopped. Any
// state may move to stopped when the VU goroutine exits, and a VU drained
// before it starts never runs an iteration. Transitions are requested by
// the Scheduler on behalf of an executor.
type VirtualUser struct {
	// ID is unique within a run
	ID int

	state       atomic.Int32
	inIteration atomic.Bool
	iterations  atomic.Int64

	drainOnce sync.Once
	drainCh   chan struct{}

	doneOnce sync.Once
	doneCh   chan struct{}
}

func newVirtualUser(id int) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		drainCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of iterations the VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// InIteration reports whether an iteration is currently in flight.
func (vu *VirtualUser) InIteration() bool {
	return vu.inIteration.Load()
}

// Done is closed once the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// start moves a spawning VU to running. It fails if the VU was drained
// before its goroutine got scheduled.
func (vu *VirtualUser) start() bool {
	return vu.state.CompareAndSwap(int32(VUStateSpawning), int32(VUStateRunning))
}

// drain asks the VU to stop after its current iteration. It returns false
// if the VU was already draining or stopped.
func (vu *VirtualUser) drain() bool {
	for {
		cur := vu.state.Load()
		if cur == int32(VUStateDraining) || cur == int32(VUStateStopped) {
			return false
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateDraining)) {
			vu.drainOnce.Do(func() { close(vu.drainCh) })
			return true
		}
	}
}

func (vu *VirtualUser) draining() bool {
	select {
	case <-vu.drainCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
