// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package errortelemetry observes the failure signals of an
// [eventloop.Loop], routing otherwise silent failures (promise rejections
// that are never handled, and uncaught exceptions) to a single unexpected
// error channel, see [errhandler].
//
// Rejections are given [GraceWindow] to be handled before they are
// reported, cancellation errors are never reported, and broken pipe write
// failures are dropped, as reporting them would fail the same way.
package errortelemetry

import (
	"errors"
	"io"
	"math"
	"os"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-errortelemetry/errhandler"
	"github.com/joeycumines/go-errortelemetry/eventloop"
	"github.com/joeycumines/logiface"
)

// GraceWindow is how long an unhandled rejection has to gain a handler,
// before it is reported.
const GraceWindow = 1000 * time.Millisecond

// Sink receives every unexpected error, once subscribed via
// [WithTelemetrySink]. It returns false if the error was dropped.
type Sink interface {
	CaptureError(err any) bool
}

// ErrorTelemetry is the error observer for a single loop. Create one with
// [New], then call [ErrorTelemetry.InstallErrorListeners], once.
type ErrorTelemetry struct {
	loop            *eventloop.Loop
	logger          *logiface.Logger[logiface.Event]
	errorHandler    *errhandler.ErrorHandler
	isCancellation  func(any) bool
	sink            Sink
	previousHandler errhandler.UnexpectedErrorHandler
	removeSink      func()

	// loop goroutine only
	pending []*eventloop.ChainedPromise

	listeners struct {
		unhandledRejection eventloop.ListenerID
		rejectionHandled   eventloop.ListenerID
		uncaughtException  eventloop.ListenerID
	}

	stats counters

	grace time.Duration

	installed   atomic.Bool
	disposed    atomic.Bool
	disposeOnce sync.Once
}

// New returns an ErrorTelemetry for loop. Unless [WithLogger] is provided,
// warnings and unexpected errors are logged as JSON to stderr, via a writer
// that raises write failures as uncaught exceptions on loop.
func New(loop *eventloop.Loop, opts ...Option) (*ErrorTelemetry, error) {
	if loop == nil {
		return nil, errors.New("errortelemetry: nil loop")
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		var w io.Writer = os.Stderr
		if cfg.stderr != nil {
			w = cfg.stderr
		}
		logger = errhandler.NewLogger(&reportingWriter{w: w, loop: loop})
	}

	return &ErrorTelemetry{
		loop:           loop,
		logger:         logger,
		errorHandler:   cfg.errorHandler,
		isCancellation: cfg.isCancellation,
		sink:           cfg.sink,
		grace:          GraceWindow,
	}, nil
}

// InstallErrorListeners installs the unexpected error handler, and
// registers the listeners for the loop's failure signals. It must be called
// at most once, typically during startup.
//
// Once installed:
//   - unexpected errors are logged, at error level
//   - an unhandled rejection is reported, and logged as a warning, if it is
//     still unhandled after [GraceWindow], unless it is a cancellation error
//   - an uncaught exception is reported, unless it is a broken pipe write
//     failure
func (x *ErrorTelemetry) InstallErrorListeners() {
	x.installed.Store(true)

	x.previousHandler = x.errorHandler.SetUnexpectedErrorHandler(errhandler.LogHandler(x.logger))

	if x.sink != nil {
		sink := x.sink
		x.removeSink = x.errorHandler.AddListener(func(err any) {
			sink.CaptureError(err)
		})
	}

	process := x.loop.Process()
	x.listeners.unhandledRejection = process.OnUnhandledRejection(x.onUnhandledRejection)
	x.listeners.rejectionHandled = process.OnRejectionHandled(x.onRejectionHandled)
	x.listeners.uncaughtException = process.OnUncaughtException(x.onUncaughtException)
}

// Dispose unregisters the listeners and the sink, and restores the
// previous unexpected error handler. Grace period checks that are still
// scheduled, or whose reaction has yet to run, do nothing. Dispose is a no-op if the listeners were never
// installed, and is idempotent.
func (x *ErrorTelemetry) Dispose() {
	if !x.installed.Load() {
		return
	}
	x.disposeOnce.Do(func() {
		x.disposed.Store(true)

		process := x.loop.Process()
		process.RemoveListener(eventloop.EventUnhandledRejection, x.listeners.unhandledRejection)
		process.RemoveListener(eventloop.EventRejectionHandled, x.listeners.rejectionHandled)
		process.RemoveListener(eventloop.EventUncaughtException, x.listeners.uncaughtException)

		if x.removeSink != nil {
			x.removeSink()
		}

		x.errorHandler.SetUnexpectedErrorHandler(x.previousHandler)

		if err := x.loop.Submit(func() { x.pending = nil }); err != nil {
			x.logger.Debug().
				Err(err).
				Log("errortelemetry: failed to clear pending rejections")
		}
	})
}

// Pending returns the number of rejections that are within their grace
// period, or are about to be reported. Must be called on the loop
// goroutine.
func (x *ErrorTelemetry) Pending() int {
	return len(x.pending)
}

func (x *ErrorTelemetry) onUnhandledRejection(reason any, promise *eventloop.ChainedPromise) {
	x.stats.rejections.Add(1)

	if !slices.Contains(x.pending, promise) {
		x.pending = append(x.pending, promise)
	}

	if _, err := x.loop.ScheduleTimer(x.grace, func() {
		x.checkRejection(reason, promise)
	}); err != nil {
		x.logger.Debug().
			Err(err).
			Uint64("promise", promise.ID()).
			Log("errortelemetry: failed to schedule rejection check")
	}
}

// checkRejection runs once the grace period has elapsed.
func (x *ErrorTelemetry) checkRejection(reason any, promise *eventloop.ChainedPromise) {
	if x.disposed.Load() || !slices.Contains(x.pending, promise) {
		return
	}

	promise.Catch(func(e eventloop.Result) eventloop.Result {
		x.removePending(promise)

		if x.disposed.Load() {
			return nil
		}

		if x.isCancellation(e) {
			x.stats.suppressedCancellations.Add(1)
			return nil
		}

		x.logger.Warning().Logf("rejected promise not handled within 1 second: %v", e)
		if stack, ok := errhandler.StackTrace(e); ok {
			x.logger.Warning().Logf("stack trace: %s", stack)
		}

		if isTruthy(reason) {
			x.report(reason)
		}

		return nil
	})
}

func (x *ErrorTelemetry) onRejectionHandled(_ any, promise *eventloop.ChainedPromise) {
	if x.removePending(promise) {
		x.stats.handledLate.Add(1)
	}
}

func (x *ErrorTelemetry) onUncaughtException(err error) {
	if IsBrokenPipeWrite(err) {
		x.stats.suppressedBrokenPipes.Add(1)
		return
	}
	x.report(err)
}

func (x *ErrorTelemetry) report(err any) {
	x.stats.reported.Add(1)
	x.errorHandler.OnUnexpectedError(err)
}

// removePending removes promise from the pending set, by identity,
// returning true if it was present.
func (x *ErrorTelemetry) removePending(promise *eventloop.ChainedPromise) bool {
	i := slices.Index(x.pending, promise)
	if i < 0 {
		return false
	}
	x.pending = slices.Delete(x.pending, i, i+1)
	return true
}

// isTruthy mirrors the truthiness of dynamically typed values: nil, false,
// zero numbers, NaN, the empty string, and nil pointers (or other nil
// references) are falsy.
func isTruthy(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return false
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.String:
		return rv.Len() != 0
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return !rv.IsNil()
	default:
		return true
	}
}
