package errortelemetry

import (
	"sync/atomic"
)

// Stats is a snapshot of the observer's counters.
type Stats struct {
	// Reported is the number of errors forwarded to the unexpected error
	// handler.
	Reported uint64
	// Rejections is the number of unhandled rejection signals received.
	Rejections uint64
	// SuppressedCancellations is the number of rejections that were still
	// unhandled after the grace period, but were cancellation errors.
	SuppressedCancellations uint64
	// SuppressedBrokenPipes is the number of uncaught broken pipe write
	// failures that were dropped.
	SuppressedBrokenPipes uint64
	// HandledLate is the number of rejections that were handled within the
	// grace period.
	HandledLate uint64
}

type counters struct {
	reported                atomic.Uint64
	rejections              atomic.Uint64
	suppressedCancellations atomic.Uint64
	suppressedBrokenPipes   atomic.Uint64
	handledLate             atomic.Uint64
}

// Stats returns a snapshot of the counters. Safe to call from any
// goroutine.
func (x *ErrorTelemetry) Stats() Stats {
	return Stats{
		Reported:                x.stats.reported.Load(),
		Rejections:              x.stats.rejections.Load(),
		SuppressedCancellations: x.stats.suppressedCancellations.Load(),
		SuppressedBrokenPipes:   x.stats.suppressedBrokenPipes.Load(),
		HandledLate:             x.stats.handledLate.Load(),
	}
}
