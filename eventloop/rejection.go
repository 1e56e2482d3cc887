package eventloop

import (
	"fmt"
)

// trackRejection records a promise that was rejected with no reactions.
// Called with p.mu held.
func (l *Loop) trackRejection(p *ChainedPromise) {
	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		return
	}
	l.maybeUnhandled = append(l.maybeUnhandled, p)
	l.mu.Unlock()

	l.wake()
}

// handledRejection is a reported promise that has since gained a reaction.
type handledRejection struct {
	promise *ChainedPromise
	reason  Result
}

// processRejections dispatches [EventRejectionHandled] for each reported
// promise that has since been handled, then [EventUnhandledRejection] for
// each tracked promise that is still unhandled, both in order. Returns true
// if any promises were examined, as listeners may have queued more work.
func (l *Loop) processRejections() bool {
	l.mu.Lock()
	handled := l.asyncHandled
	l.asyncHandled = nil
	batch := l.maybeUnhandled
	l.maybeUnhandled = nil
	l.mu.Unlock()

	if len(handled) == 0 && len(batch) == 0 {
		return false
	}

	for i, h := range handled {
		handled[i] = handledRejection{}
		l.safeExecute(func() {
			l.process.dispatchRejectionHandled(h.promise, h.reason)
		})
	}

	for i, p := range batch {
		batch[i] = nil

		reason, ok := p.markReported()
		if !ok {
			continue
		}

		if !l.process.HasListeners(EventUnhandledRejection) {
			l.logger.Warning().
				Str("reason", fmt.Sprint(reason)).
				Uint64("promise", p.id).
				Uint64("loop", l.id).
				Log("eventloop: unhandled promise rejection")
			continue
		}

		l.safeExecute(func() {
			l.process.dispatchUnhandledRejection(p, reason)
		})
	}

	return true
}

// markReported flags the promise as reported, returning its reason, unless
// a reaction has been attached since it was rejected.
func (p *ChainedPromise) markReported() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handled {
		return nil, false
	}
	p.reported = true
	return p.result, true
}

// rejectionHandled queues [EventRejectionHandled] for a previously reported
// promise, to be dispatched at the next checkpoint. Safe to call from any
// goroutine.
func (l *Loop) rejectionHandled(p *ChainedPromise, reason Result) {
	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		l.logger.Debug().
			Err(ErrLoopTerminated).
			Uint64("promise", p.id).
			Log("eventloop: dropped rejection handled signal")
		return
	}
	l.asyncHandled = append(l.asyncHandled, handledRejection{promise: p, reason: reason})
	l.mu.Unlock()

	l.wake()
}
