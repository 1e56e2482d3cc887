// Package eventloop provides a single goroutine event loop for Go, featuring
// timers, promises, microtask scheduling, and host-level failure signals.
//
// # Architecture
//
// The [Loop] owns a timer heap, a queue of submitted tasks, and a microtask
// queue. Promises ([ChainedPromise]) are bound to a loop, and all of their
// reactions run as microtasks on the loop goroutine.
//
// Failures that nothing in the program handles are surfaced via the
// [Process] signal hub, see [Loop.Process]:
//   - [EventUncaughtException], for panics recovered from any callback, and
//     errors raised via [Loop.ReportUncaughtException]
//   - [EventUnhandledRejection], for promises rejected with no reactions
//   - [EventRejectionHandled], for reported promises that later gain one
//
// # Execution Model
//
// Task ordering within each tick:
//  1. Timer callbacks (earliest deadline first)
//  2. Submitted tasks ([Loop.Submit])
//
// Each task is followed by a checkpoint, which drains microtasks, then
// dispatches [EventRejectionHandled] for reported promises that have gained
// a reaction, then [EventUnhandledRejection] for every promise that is
// still unhandled, in rejection order. This means a reaction attached within the
// same task, or any microtask it queues, prevents the signal.
//
// # Usage
//
//	loop, err := eventloop.New(eventloop.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	loop.Process().OnUnhandledRejection(func(reason any, p *eventloop.ChainedPromise) {
//	    // ...
//	})
//
//	go loop.Run(ctx)
//	defer loop.Shutdown(context.Background())
//
//	p, _, reject := loop.NewChainedPromise()
//	reject(errors.New("boom")) // reported at the next checkpoint
package eventloop
