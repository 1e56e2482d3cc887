package errhandler

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// StackTracer is implemented by errors (or other values) that carry a stack
// trace, e.g. eventloop.PanicError.
type StackTracer interface {
	StackTrace() string
}

type stackError struct {
	err   error
	stack []uintptr
}

// WithStack annotates err with the stack of the caller. Returns nil if err
// is nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return withStack(err, 3)
}

func withStack(err error, skip int) error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return &stackError{err: err, stack: pcs[:n]}
}

func (e *stackError) Error() string { return e.err.Error() }

func (e *stackError) Unwrap() error { return e.err }

// StackTrace formats the captured stack, one frame per line.
func (e *stackError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(e.stack)
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			if b.Len() != 0 {
				b.WriteByte('\n')
			}
			_, _ = fmt.Fprintf(&b, "%s (%s:%d)", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// StackTrace returns the stack trace carried by v, if any. Errors are
// searched via [errors.As], so wrapping preserves the stack. An empty stack
// counts as absent.
func StackTrace(v any) (string, bool) {
	var tracer StackTracer
	switch v := v.(type) {
	case nil:
		return "", false
	case error:
		if !errors.As(v, &tracer) {
			return "", false
		}
	case StackTracer:
		tracer = v
	default:
		return "", false
	}
	stack := tracer.StackTrace()
	if stack == "" {
		return "", false
	}
	return stack, true
}
