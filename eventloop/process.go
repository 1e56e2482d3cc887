// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

// Process signal event types, as dispatched by [Process].
const (
	// EventUncaughtException is dispatched with an error detail, for panics
	// recovered from loop callbacks, and for errors raised via
	// [Loop.ReportUncaughtException].
	EventUncaughtException = "uncaughtException"

	// EventUnhandledRejection is dispatched with a [*RejectionEvent] detail,
	// at the checkpoint following the rejection of a promise that has no
	// reactions.
	EventUnhandledRejection = "unhandledRejection"

	// EventRejectionHandled is dispatched with a [*RejectionEvent] detail,
	// at the checkpoint following the attachment of a reaction to a promise
	// previously reported via [EventUnhandledRejection].
	EventRejectionHandled = "rejectionHandled"
)

// RejectionEvent is the detail of [EventUnhandledRejection] and
// [EventRejectionHandled] events.
type RejectionEvent struct {
	// Reason is the rejection reason, which may be any value, including nil.
	Reason any

	// Promise is the rejected promise.
	Promise *ChainedPromise
}

// Process is the host signal hub of a [Loop], analogous to a runtime's
// process object. Listeners are always invoked on the loop goroutine.
//
// A panicking [EventUnhandledRejection] or [EventRejectionHandled] listener
// is raised as an uncaught exception. A panicking [EventUncaughtException]
// listener is logged, and is never re-dispatched.
type Process struct {
	loop   *Loop
	target *EventTarget
}

func newProcess(loop *Loop) *Process {
	return &Process{
		loop:   loop,
		target: NewEventTarget(),
	}
}

// OnUncaughtException registers fn for [EventUncaughtException].
func (p *Process) OnUncaughtException(fn func(err error)) ListenerID {
	if fn == nil {
		return 0
	}
	return p.target.AddEventListener(EventUncaughtException, func(event *Event) {
		err, _ := event.Detail().(error)
		fn(err)
	})
}

// OnUnhandledRejection registers fn for [EventUnhandledRejection].
func (p *Process) OnUnhandledRejection(fn func(reason any, promise *ChainedPromise)) ListenerID {
	return p.onRejectionEvent(EventUnhandledRejection, fn)
}

// OnRejectionHandled registers fn for [EventRejectionHandled]. The reason
// is the original rejection reason.
func (p *Process) OnRejectionHandled(fn func(reason any, promise *ChainedPromise)) ListenerID {
	return p.onRejectionEvent(EventRejectionHandled, fn)
}

func (p *Process) onRejectionEvent(eventType string, fn func(reason any, promise *ChainedPromise)) ListenerID {
	if fn == nil {
		return 0
	}
	return p.target.AddEventListener(eventType, func(event *Event) {
		if detail, ok := event.Detail().(*RejectionEvent); ok {
			fn(detail.Reason, detail.Promise)
		}
	})
}

// RemoveListener removes a listener previously registered for eventType,
// returning true if it was found.
func (p *Process) RemoveListener(eventType string, id ListenerID) bool {
	return p.target.RemoveEventListenerByID(eventType, id)
}

// ListenerCount returns the number of listeners registered for eventType.
func (p *Process) ListenerCount(eventType string) int {
	return p.target.ListenerCount(eventType)
}

// HasListeners returns true if any listener is registered for eventType.
func (p *Process) HasListeners(eventType string) bool {
	return p.target.HasEventListeners(eventType)
}

func (p *Process) dispatchUncaughtException(err error) {
	p.target.DispatchEvent(NewCustomEvent(EventUncaughtException, err))
}

func (p *Process) dispatchUnhandledRejection(promise *ChainedPromise, reason any) {
	p.target.DispatchEvent(NewCustomEvent(EventUnhandledRejection, &RejectionEvent{
		Reason:  reason,
		Promise: promise,
	}))
}

func (p *Process) dispatchRejectionHandled(promise *ChainedPromise, reason any) {
	p.target.DispatchEvent(NewCustomEvent(EventRejectionHandled, &RejectionEvent{
		Reason:  reason,
		Promise: promise,
	}))
}
