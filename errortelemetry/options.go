package errortelemetry

import (
	"errors"
	"io"

	"github.com/joeycumines/go-errortelemetry/errhandler"
	"github.com/joeycumines/logiface"
)

// options holds configuration for ErrorTelemetry creation.
type options struct {
	logger         *logiface.Logger[logiface.Event]
	stderr         io.Writer
	errorHandler   *errhandler.ErrorHandler
	isCancellation func(any) bool
	sink           Sink
}

// Option configures an [ErrorTelemetry] instance.
type Option interface {
	apply(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithLogger configures the logger used for warnings, and by the default
// unexpected error handler. Overrides [WithStderr].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		if logger == nil {
			return errors.New("errortelemetry: nil logger")
		}
		opts.logger = logger
		return nil
	}}
}

// WithStderr configures the writer the default logger writes to, which is
// [os.Stderr] by default. Write failures are raised as uncaught exceptions
// on the loop.
func WithStderr(w io.Writer) Option {
	return &optionImpl{func(opts *options) error {
		if w == nil {
			return errors.New("errortelemetry: nil stderr writer")
		}
		opts.stderr = w
		return nil
	}}
}

// WithErrorHandler configures the unexpected error handler that is
// installed into, and that errors are forwarded to. Defaults to
// [errhandler.Default].
func WithErrorHandler(h *errhandler.ErrorHandler) Option {
	return &optionImpl{func(opts *options) error {
		if h == nil {
			return errors.New("errortelemetry: nil error handler")
		}
		opts.errorHandler = h
		return nil
	}}
}

// WithCancellationPredicate configures the classification of expected
// cancellation errors, which are never reported. Defaults to
// [errhandler.IsCancellationError].
func WithCancellationPredicate(fn func(any) bool) Option {
	return &optionImpl{func(opts *options) error {
		if fn == nil {
			return errors.New("errortelemetry: nil cancellation predicate")
		}
		opts.isCancellation = fn
		return nil
	}}
}

// WithTelemetrySink subscribes sink to the unexpected error handler, for
// the lifetime of the installed listeners.
func WithTelemetrySink(sink Sink) Option {
	return &optionImpl{func(opts *options) error {
		opts.sink = sink
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		errorHandler:   errhandler.Default,
		isCancellation: errhandler.IsCancellationError,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
