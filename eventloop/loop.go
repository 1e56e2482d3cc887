// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// TimerID identifies a timer scheduled via [Loop.ScheduleTimer].
type TimerID uint64

// Loop is a single goroutine event loop, hosting timers, macrotasks,
// microtasks, and promises, and publishing host-level failure signals via
// [Loop.Process].
//
// Task ordering within each tick:
//  1. Timer callbacks (earliest deadline first, ties in scheduling order)
//  2. Submitted tasks ([Loop.Submit]), up to the configured budget
//
// Every timer callback and submitted task is followed by a checkpoint, which
// drains the microtask queue, then dispatches rejection handled signals for
// reported promises that have since gained a reaction, and unhandled
// rejection signals for promises that were rejected without any reaction
// attached, repeating until all are exhausted.
//
// Thread Safety:
//   - [Loop.Submit], [Loop.ScheduleMicrotask], [Loop.ScheduleTimer],
//     [Loop.CancelTimer], and [Loop.ReportUncaughtException] are safe to call
//     from any goroutine
//   - All callbacks, including [Process] listeners, run on the loop goroutine
type Loop struct {
	// Prevent copying
	_ [0]func()

	logger  *logiface.Logger[logiface.Event]
	process *Process

	// closed when run exits
	loopDone chan struct{}

	// buffered (1), deduplicated wake-up signal
	wakeCh chan struct{}

	timerIndex map[TimerID]*timer

	external       []func()
	microtasks     []func()
	timers         timerHeap
	maybeUnhandled []*ChainedPromise
	asyncHandled   []handledRejection

	id              uint64
	externalBudget  int
	nextTimerID     TimerID
	timerSeq        uint64
	nextPromiseID   atomic.Uint64
	loopGoroutineID atomic.Uint64
	state           loopState

	// guards the queues, timers, and the transition to StateTerminated
	mu sync.Mutex

	// set by Close, to skip draining on exit
	closing atomic.Bool

	// loop goroutine only
	dispatchingUncaught bool
}

// timer represents a scheduled callback
type timer struct {
	when  time.Time
	fn    func()
	seq   uint64
	id    TimerID
	index int
}

// timerHeap is a min-heap of timers
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// New creates a new event loop. The loop does nothing until [Loop.Run] is
// called.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		id:             loopIDCounter.Add(1),
		logger:         cfg.logger,
		externalBudget: cfg.externalBudget,
		timerIndex:     make(map[TimerID]*timer),
		wakeCh:         make(chan struct{}, 1),
		loopDone:       make(chan struct{}),
	}
	l.process = newProcess(l)

	return l, nil
}

// ID returns the unique (per process) identifier of this loop.
func (l *Loop) ID() uint64 {
	return l.id
}

// Process returns the signal hub, on which listeners for unhandled
// rejections, late-handled rejections, and uncaught exceptions may be
// registered.
func (l *Loop) Process() *Process {
	return l.process
}

// State returns the current [LoopState].
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown(), Close(), or ctx cancellation).
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	// Close loopDone when run exits to signal completion to Shutdown waiters
	defer close(l.loopDone)

	return l.run(ctx)
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	for {
		if err := ctx.Err(); err != nil {
			l.beginTermination()
			l.shutdown()
			return err
		}

		if l.state.Load() == StateTerminating {
			l.shutdown()
			return nil
		}

		l.tick()

		l.sleep(ctx)
	}
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.runTimers()
	l.processExternal()
	// microtasks may have been queued from other goroutines
	l.checkpoint()
}

// sleep blocks until there is work to do, the next timer is due, or ctx is
// done. It returns immediately if work is already pending.
func (l *Loop) sleep(ctx context.Context) {
	l.mu.Lock()
	if len(l.external) != 0 || len(l.microtasks) != 0 || len(l.maybeUnhandled) != 0 || len(l.asyncHandled) != 0 {
		l.mu.Unlock()
		return
	}
	wait := time.Duration(-1)
	if len(l.timers) != 0 {
		wait = time.Until(l.timers[0].when)
		if wait <= 0 {
			l.mu.Unlock()
			return
		}
	}
	l.mu.Unlock()

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		// terminating
		return
	}
	defer l.state.TryTransition(StateSleeping, StateRunning)

	var timerC <-chan time.Time
	if wait >= 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-l.wakeCh:
	case <-timerC:
	case <-ctx.Done():
	}
}

// wake signals the loop goroutine, deduplicated via the buffered channel.
func (l *Loop) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// runTimers executes all expired timers.
func (l *Loop) runTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*timer)
		delete(l.timerIndex, t.id)
		l.mu.Unlock()

		l.safeExecute(t.fn)
		l.checkpoint()
	}
}

// processExternal runs submitted tasks, up to the budget.
func (l *Loop) processExternal() {
	l.mu.Lock()
	n := min(len(l.external), l.externalBudget)
	if n == 0 {
		l.mu.Unlock()
		return
	}
	batch := make([]func(), n)
	copy(batch, l.external)
	clear(l.external[:n])
	l.external = l.external[n:]
	if len(l.external) == 0 {
		l.external = nil
	}
	l.mu.Unlock()

	for i, fn := range batch {
		l.safeExecute(fn)
		batch[i] = nil // Clear for GC
		l.checkpoint()
	}
}

// checkpoint drains microtasks, then processes rejection tracking, until
// neither yields any more work. Rejection handled signals are dispatched here
// rather than as tasks, so they always precede the next timer.
func (l *Loop) checkpoint() {
	for {
		ran := l.drainMicrotasks()
		reported := l.processRejections()
		if !ran && !reported {
			return
		}
	}
}

// drainMicrotasks runs microtasks in FIFO order, including any queued while
// draining. Returns true if at least one ran.
func (l *Loop) drainMicrotasks() bool {
	var ran bool
	for {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.microtasks = nil
			l.mu.Unlock()
			return ran
		}
		fn := l.microtasks[0]
		l.microtasks[0] = nil
		l.microtasks = l.microtasks[1:]
		l.mu.Unlock()

		ran = true
		l.safeExecute(fn)
	}
}

// Submit submits a task, to be run on the loop goroutine.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (loop drains queued work before exiting)
//   - otherwise: normal operation
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return nil
	}

	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.external = append(l.external, fn)
	l.mu.Unlock()

	l.wake()
	return nil
}

// ScheduleMicrotask schedules a microtask, which will run before the loop
// moves on to the next timer or submitted task.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	if fn == nil {
		return nil
	}

	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.microtasks = append(l.microtasks, fn)
	l.mu.Unlock()

	l.wake()
	return nil
}

// ScheduleTimer schedules fn to be executed after the specified delay.
// Negative delays are treated as zero. A zero delay still runs
// asynchronously, on a later tick.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if fn == nil {
		return 0, nil
	}
	if delay < 0 {
		delay = 0
	}

	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		return 0, ErrLoopTerminated
	}
	l.nextTimerID++
	l.timerSeq++
	t := &timer{
		when: time.Now().Add(delay),
		fn:   fn,
		seq:  l.timerSeq,
		id:   l.nextTimerID,
	}
	heap.Push(&l.timers, t)
	l.timerIndex[t.id] = t
	l.mu.Unlock()

	l.wake()
	return t.id, nil
}

// CancelTimer cancels a timer that has not yet fired.
//
// Returns [ErrTimerNotFound] if the timer ID is invalid or has already fired.
// This is safe to call multiple times for the same ID.
func (l *Loop) CancelTimer(id TimerID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.timerIndex[id]
	if !ok {
		return ErrTimerNotFound
	}
	heap.Remove(&l.timers, t.index)
	delete(l.timerIndex, id)
	return nil
}

// ReportUncaughtException raises err as an uncaught exception, dispatched on
// the loop goroutine (as a task) to all [Process.OnUncaughtException]
// listeners. Safe to call from any goroutine. If the loop has terminated,
// err is logged instead.
func (l *Loop) ReportUncaughtException(err error) {
	if err == nil {
		return
	}
	if submitErr := l.Submit(func() { l.reportUncaught(err) }); submitErr != nil {
		l.logger.Err().
			Err(err).
			Uint64("loop", l.id).
			Log("eventloop: uncaught exception after termination")
	}
}

// reportUncaught dispatches an uncaught exception, on the loop goroutine.
func (l *Loop) reportUncaught(err error) {
	if l.dispatchingUncaught {
		// an uncaught exception listener failed, don't recurse
		l.logUncaught(err, "eventloop: uncaught exception in uncaught exception listener")
		return
	}
	if !l.process.HasListeners(EventUncaughtException) {
		l.logUncaught(err, "eventloop: uncaught exception")
		return
	}

	l.dispatchingUncaught = true
	defer func() {
		l.dispatchingUncaught = false
		if r := recover(); r != nil {
			l.logUncaught(newPanicError(r), "eventloop: uncaught exception listener panicked")
		}
	}()

	l.process.dispatchUncaughtException(err)
}

func (l *Loop) logUncaught(err error, msg string) {
	b := l.logger.Err()
	if b == nil {
		return
	}
	b = b.Err(err).Uint64("loop", l.id)
	if pe, ok := err.(*PanicError); ok {
		b = b.Str("stack", pe.StackTrace())
	}
	b.Log(msg)
}

// safeExecute executes a function with panic recovery. Recovered panics are
// raised as uncaught exceptions.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.reportUncaught(newPanicError(r))
		}
	}()

	fn()
}

// Shutdown gracefully shuts down the event loop.
//
// Queued tasks and microtasks are drained (timers that are not yet due are
// discarded), then the loop terminates. Shutdown blocks until termination
// completes or ctx expires, unless called from the loop goroutine, in which
// case it returns immediately after requesting termination.
func (l *Loop) Shutdown(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}
		if current == StateAwake {
			if l.state.TryTransition(StateAwake, StateTerminated) {
				l.discardAll()
				return nil
			}
			continue
		}
		if l.state.TryTransition(current, StateTerminating) {
			break
		}
	}

	l.wake()

	if l.isLoopThread() {
		return nil
	}

	// Wait for termination via channel, NOT polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates the event loop, without running queued work.
// It does not wait for [Loop.Run] to return.
func (l *Loop) Close() error {
	l.closing.Store(true)
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if current == StateTerminating {
			l.wake()
			return nil
		}
		if current == StateAwake {
			if l.state.TryTransition(StateAwake, StateTerminated) {
				l.discardAll()
				return nil
			}
			continue
		}
		if l.state.TryTransition(current, StateTerminating) {
			l.wake()
			return nil
		}
	}
}

// beginTermination moves a running loop to StateTerminating.
func (l *Loop) beginTermination() {
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			return
		}
	}
}

// shutdown performs the shutdown sequence, on the loop goroutine.
func (l *Loop) shutdown() {
	for !l.closing.Load() {
		l.mu.Lock()
		if len(l.external) == 0 && len(l.microtasks) == 0 && len(l.maybeUnhandled) == 0 && len(l.asyncHandled) == 0 {
			// the transition happens under the lock, so no Submit can be lost
			l.state.Store(StateTerminated)
			l.mu.Unlock()
			l.discardAll()
			return
		}
		l.mu.Unlock()

		l.processExternal()
		l.checkpoint()
	}

	l.mu.Lock()
	l.state.Store(StateTerminated)
	l.mu.Unlock()
	l.discardAll()
}

func (l *Loop) discardAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.external = nil
	l.microtasks = nil
	l.maybeUnhandled = nil
	l.asyncHandled = nil
	l.timers = nil
	clear(l.timerIndex)
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
