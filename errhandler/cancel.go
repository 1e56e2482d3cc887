package errhandler

import (
	"context"
	"errors"
)

// ErrCanceled is the sentinel for cancelled operations. Cancellation errors
// are expected, and are never reported as unexpected.
var ErrCanceled = errors.New("Canceled") //nolint:staticcheck // matches the name used by reporters

// Canceled returns a new cancellation error, carrying the caller's stack.
func Canceled() error {
	return withStack(ErrCanceled, 3)
}

// IsCancellationError returns true if v is an error that is, or wraps,
// [ErrCanceled] or [context.Canceled].
func IsCancellationError(v any) bool {
	err, ok := v.(error)
	if !ok || err == nil {
		return false
	}
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
