// Package otelsink records unexpected errors as OpenTelemetry spans, rate
// limited per error category.
package otelsink

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-errortelemetry/errhandler"
	"github.com/joeycumines/logiface"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name to use when obtaining a tracer
// for [New].
const TracerName = "github.com/joeycumines/go-errortelemetry/otelsink"

// SpanName is the name of the span recorded for each captured error.
const SpanName = "unexpected error"

// DefaultRates are the per category rate limits applied unless
// [WithLimiter] is provided. They are copied by [New], so changes only
// affect sinks created afterwards.
var DefaultRates = map[time.Duration]int{
	time.Minute: 10,
	time.Hour:   60,
}

// Sink records each captured error as a span, with an exception event.
// Errors are categorised by type and message, so a single recurring failure
// can't flood the exporter. Sink is safe for concurrent use.
type Sink struct {
	tracer  trace.Tracer
	limiter *catrate.Limiter
	logger  *logiface.Logger[logiface.Event]
}

// Option configures a [Sink].
type Option func(*Sink)

// WithLimiter replaces the rate limiter. A nil limiter disables rate
// limiting.
func WithLimiter(limiter *catrate.Limiter) Option {
	return func(s *Sink) {
		s.limiter = limiter
	}
}

// WithLogger configures logging of dropped errors, at debug level.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// New returns a Sink recording spans via tracer.
func New(tracer trace.Tracer, opts ...Option) *Sink {
	s := &Sink{
		tracer:  tracer,
		limiter: catrate.NewLimiter(maps.Clone(DefaultRates)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CaptureError records v, which may be any value, returning false if it
// was dropped due to rate limiting.
func (x *Sink) CaptureError(v any) bool {
	errType := fmt.Sprintf("%T", v)
	err, ok := v.(error)
	if !ok || err == nil {
		err = errors.New(fmt.Sprint(v))
	}

	category := errType + ": " + err.Error()
	if next, ok := x.limiter.Allow(category); !ok {
		x.logger.Debug().
			Str("category", category).
			Time("next", next).
			Log("otelsink: dropped unexpected error")
		return false
	}

	_, span := x.tracer.Start(context.Background(), SpanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var eventOpts []trace.EventOption
	if stack, ok := errhandler.StackTrace(v); ok {
		eventOpts = append(eventOpts, trace.WithAttributes(semconv.ExceptionStacktraceKey.String(stack)))
	}
	span.RecordError(err, eventOpts...)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		semconv.ErrorTypeKey.String(errType),
		attribute.Bool("error.cancellation", errhandler.IsCancellationError(v)),
	)

	return true
}
