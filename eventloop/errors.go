package eventloop

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrTimerNotFound is returned by [Loop.CancelTimer] for unknown or already fired timers.
	ErrTimerNotFound = errors.New("eventloop: timer not found")
)

// PanicError wraps a value recovered from a panicking task, microtask, or
// promise reaction, along with the stack of the goroutine at recovery time.
//
// PanicError is what the loop dispatches as an uncaught exception.
type PanicError struct {
	// Value is the value passed to panic.
	Value any
	// Stack is the output of [debug.Stack] captured inside the deferred recover.
	Stack []byte
}

func newPanicError(value any) *PanicError {
	return &PanicError{Value: value, Stack: debug.Stack()}
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// StackTrace returns the captured stack, satisfying the StackTracer
// interface used by error reporters.
func (e *PanicError) StackTrace() string {
	return string(e.Stack)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
//
// If the panic Value is not an error (e.g., a string or other type),
// returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TypeError represents a type error, similar to JavaScript's TypeError.
// It is used to reject promises that would otherwise resolve to themselves.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}
