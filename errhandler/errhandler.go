// Package errhandler implements the process-wide unexpected error channel:
// a single replaceable handler, plus any number of listeners, which are
// notified of every error reported via [OnUnexpectedError].
//
// It also provides the classification helpers used by reporters, namely
// cancellation detection, and stack trace extraction.
package errhandler

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// UnexpectedErrorHandler receives errors reported via
// [ErrorHandler.OnUnexpectedError]. The value may be any type, including
// non-error values, and nil.
type UnexpectedErrorHandler func(err any)

// ErrorHandler is a replaceable unexpected error handler, with listeners.
// The zero value is not usable, use [NewErrorHandler].
//
// ErrorHandler is safe for concurrent use.
type ErrorHandler struct {
	handler   UnexpectedErrorHandler
	listeners []listener
	nextID    uint64
	mu        sync.RWMutex
}

type listener struct {
	fn func(err any)
	id uint64
}

// Default is the process-wide [ErrorHandler].
var Default = NewErrorHandler()

// NewErrorHandler returns an ErrorHandler, initialized with a handler that
// logs to [os.Stderr], see [NewLogger].
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		handler: LogHandler(NewLogger(os.Stderr)),
	}
}

// NewLogger returns a JSON lines logger writing to w.
func NewLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	).Logger()
}

// LogHandler returns an UnexpectedErrorHandler that logs each error at
// error level, including the stack trace, if one is available.
func LogHandler(logger *logiface.Logger[logiface.Event]) UnexpectedErrorHandler {
	return func(v any) {
		b := logger.Err()
		if b == nil {
			return
		}
		if err, ok := v.(error); ok {
			b = b.Err(err)
		} else {
			b = b.Str("err", fmt.Sprint(v))
		}
		if stack, ok := StackTrace(v); ok {
			b = b.Str("stack", stack)
		}
		b.Log("unexpected error")
	}
}

// SetUnexpectedErrorHandler replaces the handler, returning the previous
// one. A nil handler disables handling, though listeners are still notified.
func (x *ErrorHandler) SetUnexpectedErrorHandler(handler UnexpectedErrorHandler) UnexpectedErrorHandler {
	x.mu.Lock()
	defer x.mu.Unlock()
	previous := x.handler
	x.handler = handler
	return previous
}

// OnUnexpectedError passes err to the handler, then to each listener, in
// registration order. Each is called exactly once, on the calling goroutine.
func (x *ErrorHandler) OnUnexpectedError(err any) {
	x.mu.RLock()
	handler := x.handler
	listeners := x.listeners
	x.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
	for _, l := range listeners {
		l.fn(err)
	}
}

// AddListener registers fn to be notified of every unexpected error,
// returning a function that unregisters it. The returned function is
// idempotent.
func (x *ErrorHandler) AddListener(fn func(err any)) (remove func()) {
	if fn == nil {
		return func() {}
	}

	x.mu.Lock()
	x.nextID++
	id := x.nextID
	x.listeners = append(x.listeners, listener{fn: fn, id: id})
	x.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { x.removeListener(id) })
	}
}

func (x *ErrorHandler) removeListener(id uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, l := range x.listeners {
		if l.id == id {
			// copy, OnUnexpectedError may be iterating the old slice
			updated := make([]listener, 0, len(x.listeners)-1)
			updated = append(updated, x.listeners[:i]...)
			x.listeners = append(updated, x.listeners[i+1:]...)
			return
		}
	}
}

// SetUnexpectedErrorHandler calls [ErrorHandler.SetUnexpectedErrorHandler] on [Default].
func SetUnexpectedErrorHandler(handler UnexpectedErrorHandler) UnexpectedErrorHandler {
	return Default.SetUnexpectedErrorHandler(handler)
}

// OnUnexpectedError calls [ErrorHandler.OnUnexpectedError] on [Default].
func OnUnexpectedError(err any) {
	Default.OnUnexpectedError(err)
}

// AddListener calls [ErrorHandler.AddListener] on [Default].
func AddListener(fn func(err any)) (remove func()) {
	return Default.AddListener(fn)
}
