package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateAwake → StateRunning              [Run()]
//	StateRunning → StateSleeping           [idle wait via CAS]
//	StateSleeping → StateRunning           [wake via CAS]
//	StateRunning/StateSleeping → StateTerminating [Shutdown() / Close()]
//	StateAwake → StateTerminated           [Shutdown() / Close() before Run()]
//	StateTerminating → StateTerminated     [run exits]
//
// Use TryTransition (CAS) for the temporary states (Running, Sleeping), and
// Store only for the terminal state.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is idle, waiting for work or a timer.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively processing tasks.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state machine.
type loopState struct {
	v atomic.Uint64
}

func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *loopState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// CanAcceptWork returns true if the loop can accept new work.
func (s *loopState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}
