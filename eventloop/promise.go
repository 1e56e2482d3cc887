package eventloop

import (
	"sync"
	"sync/atomic"
)

// Result represents the value of a resolved or rejected promise.
// For fulfilled promises, this holds the success value.
// For rejected promises, this holds the rejection reason, which need not be
// an error, and may be nil.
type Result = any

// PromiseState represents the lifecycle state of a [ChainedPromise].
// State transitions are irreversible.
type PromiseState int32

const (
	// Pending indicates the promise has not yet been resolved or rejected.
	Pending PromiseState = iota

	// Fulfilled indicates the promise completed successfully with a value.
	Fulfilled

	// Rejected indicates the promise failed with a reason.
	Rejected
)

// Resolved is an alias for [Fulfilled].
const Resolved = Fulfilled

// String returns a human-readable representation of the state.
func (s PromiseState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ChainedPromise is a promise bound to a [Loop], with [ChainedPromise.Then],
// [ChainedPromise.Catch], and [ChainedPromise.Finally] chaining.
//
// All reactions are scheduled as microtasks, and execute on the loop
// goroutine. A promise rejected while it has no reactions is tracked by the
// loop, and reported via [EventUnhandledRejection] if it is still unhandled
// at the next checkpoint. Attaching a reaction to a reported promise
// results in [EventRejectionHandled].
//
// Thread Safety:
// ChainedPromise is safe for concurrent use. The resolve/reject functions can
// be called from any goroutine.
type ChainedPromise struct {
	result   Result
	loop     *Loop
	handlers []handler
	// channels from ToChannel, cleared after settlement
	channels []chan Result

	id    uint64
	state atomic.Int32

	// handled is set once any reaction is attached
	handled bool
	// reported is set once EventUnhandledRejection has been dispatched, and
	// cleared on the first subsequent reaction
	reported bool

	mu sync.Mutex
}

// handler represents a reaction to promise settlement.
type handler struct {
	onFulfilled func(Result) Result
	onRejected  func(Result) Result
	onFinally   func()
	target      *ChainedPromise
}

// ResolveFunc is the function used to fulfill a promise with a value.
// Resolving with a [*ChainedPromise] adopts its eventual state.
type ResolveFunc func(Result)

// RejectFunc is the function used to reject a promise with a reason.
type RejectFunc func(Result)

// NewChainedPromise creates a new pending promise along with resolve and
// reject functions. Only the first call to either function has an effect,
// and both may be called from any goroutine.
func (l *Loop) NewChainedPromise() (*ChainedPromise, ResolveFunc, RejectFunc) {
	p := l.newPromise()

	var done atomic.Bool

	resolve := func(value Result) {
		if done.CompareAndSwap(false, true) {
			p.resolve(value)
		}
	}

	reject := func(reason Result) {
		if done.CompareAndSwap(false, true) {
			p.reject(reason)
		}
	}

	return p, resolve, reject
}

// Resolve returns a promise resolved with value.
func (l *Loop) Resolve(value Result) *ChainedPromise {
	p := l.newPromise()
	p.resolve(value)
	return p
}

// Reject returns a promise rejected with reason. Unless a reaction is
// attached before the next checkpoint, it will be reported as an unhandled
// rejection.
func (l *Loop) Reject(reason Result) *ChainedPromise {
	p := l.newPromise()
	p.reject(reason)
	return p
}

func (l *Loop) newPromise() *ChainedPromise {
	p := &ChainedPromise{
		id:   l.nextPromiseID.Add(1),
		loop: l,
	}
	p.state.Store(int32(Pending))
	return p
}

// ID returns the identifier of this promise, unique per loop.
func (p *ChainedPromise) ID() uint64 {
	return p.id
}

// State returns the current [PromiseState] of this promise.
func (p *ChainedPromise) State() PromiseState {
	return PromiseState(p.state.Load())
}

// Value returns the fulfillment value if the promise is fulfilled.
// Returns nil if the promise is pending or rejected.
func (p *ChainedPromise) Value() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Load() == int32(Fulfilled) {
		return p.result
	}
	return nil
}

// Reason returns the rejection reason if the promise is rejected.
// Returns nil if the promise is pending or fulfilled.
func (p *ChainedPromise) Reason() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Load() == int32(Rejected) {
		return p.result
	}
	return nil
}

// Then attaches reactions, returning a new promise, which is resolved with
// the return value of whichever reaction runs. A nil reaction passes the
// settlement through. A panicking reaction rejects the returned promise with
// a [*PanicError].
func (p *ChainedPromise) Then(onFulfilled, onRejected func(Result) Result) *ChainedPromise {
	child := p.loop.newPromise()
	p.addHandler(handler{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		target:      child,
	})
	return child
}

// Catch is equivalent to Then(nil, onRejected).
func (p *ChainedPromise) Catch(onRejected func(Result) Result) *ChainedPromise {
	return p.Then(nil, onRejected)
}

// Finally attaches a reaction that runs on settlement, regardless of
// outcome. The returned promise settles the same way as p, unless
// onFinally panics, in which case it is rejected with a [*PanicError].
func (p *ChainedPromise) Finally(onFinally func()) *ChainedPromise {
	if onFinally == nil {
		onFinally = func() {}
	}
	child := p.loop.newPromise()
	p.addHandler(handler{
		onFinally: onFinally,
		target:    child,
	})
	return child
}

// ToChannel returns a channel that will receive the result when the promise
// settles. The channel is buffered (capacity 1) and is closed after sending.
//
// ToChannel does not count as a reaction, for the purposes of rejection
// tracking.
func (p *ChainedPromise) ToChannel() <-chan Result {
	ch := make(chan Result, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Load() != int32(Pending) {
		ch <- p.result
		close(ch)
		return ch
	}

	p.channels = append(p.channels, ch)
	return ch
}

// addHandler attaches a handler, marking the promise as handled. If the
// promise is already settled, the handler is scheduled immediately.
func (p *ChainedPromise) addHandler(h handler) {
	p.mu.Lock()

	var wasReported bool
	if !p.handled {
		p.handled = true
		wasReported = p.reported
		p.reported = false
	}

	state := p.state.Load()
	if state == int32(Pending) {
		p.handlers = append(p.handlers, h)
		p.mu.Unlock()
		return
	}

	result := p.result
	// scheduled under the lock, to preserve registration order
	p.scheduleHandler(h, state, result)
	p.mu.Unlock()

	if wasReported {
		p.loop.rejectionHandled(p, result)
	}
}

// scheduleHandler enqueues a handler for execution via microtask.
func (p *ChainedPromise) scheduleHandler(h handler, state int32, result Result) {
	if err := p.loop.ScheduleMicrotask(func() {
		p.executeHandler(h, state, result)
	}); err != nil {
		p.loop.logger.Debug().
			Err(err).
			Uint64("promise", p.id).
			Log("eventloop: dropped promise reaction")
	}
}

// executeHandler runs a single handler with the given state and result.
// Handles nil handlers (pass-through), panic recovery, and result propagation.
func (p *ChainedPromise) executeHandler(h handler, state int32, result Result) {
	if h.onFinally != nil {
		if err := callFinally(h.onFinally); err != nil {
			h.target.reject(err)
			return
		}
		h.target.settle(state, result)
		return
	}

	var fn func(Result) Result
	if state == int32(Fulfilled) {
		fn = h.onFulfilled
	} else {
		fn = h.onRejected
	}

	if fn == nil {
		h.target.settle(state, result)
		return
	}

	value, err := callReaction(fn, result)
	if err != nil {
		h.target.reject(err)
		return
	}
	h.target.resolve(value)
}

func callReaction(fn func(Result) Result, arg Result) (value Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	value = fn(arg)
	return
}

func callFinally(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	fn()
	return
}

func (p *ChainedPromise) settle(state int32, result Result) {
	if state == int32(Fulfilled) {
		p.resolve(result)
	} else {
		p.reject(result)
	}
}

// resolve fulfills the promise, or adopts the state of value, if it is a
// [*ChainedPromise]. Resolving a promise with itself rejects it with a
// [*TypeError].
func (p *ChainedPromise) resolve(value Result) {
	if other, ok := value.(*ChainedPromise); ok && other != nil {
		if other == p {
			p.reject(&TypeError{Message: "chaining cycle detected for promise"})
			return
		}
		// pass-through reaction, which also marks other as handled
		other.addHandler(handler{target: p})
		return
	}

	p.mu.Lock()
	if p.state.Load() != int32(Pending) {
		p.mu.Unlock()
		return
	}
	p.result = value
	p.state.Store(int32(Fulfilled))
	p.flushLocked(int32(Fulfilled), value)
	p.mu.Unlock()
}

// reject rejects the promise. If it has no reactions, it is tracked as a
// possibly unhandled rejection.
func (p *ChainedPromise) reject(reason Result) {
	p.mu.Lock()
	if p.state.Load() != int32(Pending) {
		p.mu.Unlock()
		return
	}
	p.result = reason
	p.state.Store(int32(Rejected))
	if !p.handled {
		p.loop.trackRejection(p)
	}
	p.flushLocked(int32(Rejected), reason)
	p.mu.Unlock()
}

// flushLocked schedules all pending handlers, and notifies channels.
// Must be called with p.mu held.
func (p *ChainedPromise) flushLocked(state int32, result Result) {
	handlers := p.handlers
	p.handlers = nil
	for _, h := range handlers {
		p.scheduleHandler(h, state, result)
	}

	for _, ch := range p.channels {
		ch <- result
		close(ch)
	}
	p.channels = nil
}
