// Package performance provides the virtual users and the VU scheduler that
// executors use to generate load.
package performance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to retire after its
	// current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration when the VU has been asked to stop.
var ErrVUStopped = errors.New("virtual user is stopping")

// IterationFunc is the body a virtual user executes once per iteration.
//
// It runs synchronously to completion. A returned error is informational:
// the VU records it and carries on with its next iteration.
type IterationFunc func(ctx context.Context, vu *VirtualUser) error

// VirtualUser is an independent simulated client running an IterationFunc
// in a loop. VUs share no mutable state with each other.
type VirtualUser struct {
	// ID is unique within a scheduler, starting at 1.
	ID int

	iterate IterationFunc

	state     atomic.Int32
	iteration atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneOnce sync.Once
	doneCh   chan struct{}

	lastIterMu    sync.Mutex
	lastIterStart time.Time
	lastIterEnd   time.Time
}

// NewVirtualUser creates an idle VU that runs iterate on each iteration.
func NewVirtualUser(id int, iterate IterationFunc) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		iterate: iterate,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started so far.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// LastIteration returns the start and end time of the most recent iteration.
func (vu *VirtualUser) LastIteration() (start, end time.Time) {
	vu.lastIterMu.Lock()
	defer vu.lastIterMu.Unlock()
	return vu.lastIterStart, vu.lastIterEnd
}

// RunIteration executes the iteration function once.
//
// It refuses to start when the VU is stopping or stopped. A stop requested
// while the iteration is in flight does not interrupt it.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("VU %d is %s: %w", vu.ID, vu.GetState(), ErrVUStopped)
	}

	start := time.Now()
	vu.iteration.Add(1)

	var err error
	if vu.iterate != nil {
		err = vu.iterate(ctx, vu)
	}

	vu.lastIterMu.Lock()
	vu.lastIterStart = start
	vu.lastIterEnd = time.Now()
	vu.lastIterMu.Unlock()

	// A concurrent RequestStop moved us to stopping; keep that.
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return err
}

// RequestStop asks the VU to retire once its current iteration completes.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if VUState(current) == VUStateStopping || VUState(current) == VUStateStopped {
			break
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// StopRequested returns a channel that is closed once RequestStop is called.
func (vu *VirtualUser) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// IsRetiring reports whether the VU has been asked to stop or has stopped.
func (vu *VirtualUser) IsRetiring() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// MarkStopped marks the VU as fully stopped. Called when its goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// Done returns a channel that is closed once the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop. It returns false on timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}
