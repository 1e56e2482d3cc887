package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidBudget(t *testing.T) {
	loop, err := New(WithExternalBudget(0))
	if err == nil {
		t.Fatal("expected error")
	}
	if loop != nil {
		t.Error("expected nil loop")
	}
	var te *TypeError
	if errors.As(err, &te) {
		t.Errorf("unexpected type error: %v", err)
	}
}

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	_, err := loop.ScheduleTimer(20*time.Millisecond, func() { order = append(order, "late") })
	require.NoError(t, err)
	_, err = loop.ScheduleTimer(0, func() { order = append(order, "first") })
	require.NoError(t, err)
	_, err = loop.ScheduleTimer(0, func() { order = append(order, "second") })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	loop.tick()

	assert.Equal(t, []string{"first", "second", "late"}, order)
}

func TestLoop_CancelTimer(t *testing.T) {
	loop := newTestLoop(t)

	id, err := loop.ScheduleTimer(0, func() { t.Error("cancelled timer fired") })
	require.NoError(t, err)
	require.NoError(t, loop.CancelTimer(id))
	assert.ErrorIs(t, loop.CancelTimer(id), ErrTimerNotFound)

	loop.tick()
}

func TestLoop_MicrotasksRunAfterEachTask(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	for _, name := range []string{"a", "b"} {
		require.NoError(t, loop.Submit(func() {
			order = append(order, "task "+name)
			_ = loop.ScheduleMicrotask(func() {
				order = append(order, "micro "+name)
			})
		}))
	}

	loop.tick()

	assert.Equal(t, []string{"task a", "micro a", "task b", "micro b"}, order)
}

func TestLoop_ExternalBudget(t *testing.T) {
	loop := newTestLoop(t, WithExternalBudget(2))

	var n int
	for range 5 {
		require.NoError(t, loop.Submit(func() { n++ }))
	}

	loop.tick()
	assert.Equal(t, 2, n)
	loop.tick()
	assert.Equal(t, 4, n)
	loop.tick()
	assert.Equal(t, 5, n)
}

func TestLoop_PanicDispatchedAsUncaughtException(t *testing.T) {
	loop := newTestLoop(t)

	var got []error
	loop.Process().OnUncaughtException(func(err error) {
		got = append(got, err)
	})

	cause := errors.New("task failed")
	require.NoError(t, loop.Submit(func() { panic(cause) }))
	var ran bool
	require.NoError(t, loop.Submit(func() { ran = true }))

	loop.tick()

	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], cause)
	assert.True(t, ran, "subsequent task should still run")
}

func TestLoop_UncaughtExceptionListenerPanicNotRedispatched(t *testing.T) {
	loop := newTestLoop(t)

	var calls int
	loop.Process().OnUncaughtException(func(err error) {
		calls++
		panic("listener failed")
	})

	require.NoError(t, loop.Submit(func() { panic("task failed") }))
	loop.tick()

	assert.Equal(t, 1, calls)
}

func TestLoop_ReportUncaughtException(t *testing.T) {
	loop := newTestLoop(t)

	got := make(chan error, 1)
	loop.Process().OnUncaughtException(func(err error) {
		got <- err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	cause := errors.New("reported")
	go loop.ReportUncaughtException(cause)

	select {
	case err := <-got:
		assert.Same(t, cause, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestLoop_RunAndShutdown(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	ready := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ready) }))
	<-ready

	var ran atomic.Bool
	require.NoError(t, loop.Submit(func() {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	}))

	require.NoError(t, loop.Shutdown(context.Background()))
	assert.True(t, ran.Load(), "queued task should drain before termination")
	assert.NoError(t, <-done)
	assert.Equal(t, StateTerminated, loop.State())

	assert.ErrorIs(t, loop.Submit(func() {}), ErrLoopTerminated)
	assert.ErrorIs(t, loop.Shutdown(context.Background()), ErrLoopTerminated)
	assert.ErrorIs(t, loop.Run(context.Background()), ErrLoopTerminated)
}

func TestLoop_RunContextCancel(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// make sure it is running
	ready := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ready) }))
	<-ready

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	assert.Equal(t, StateTerminated, loop.State())
}

func TestLoop_ShutdownFromLoopGoroutine(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	require.NoError(t, loop.Submit(func() {
		if err := loop.Shutdown(context.Background()); err != nil {
			t.Error(err)
		}
	}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestLoop_Close(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	require.NoError(t, loop.Close())
	assert.Equal(t, StateTerminated, loop.State())
	assert.ErrorIs(t, loop.Close(), ErrLoopTerminated)
	assert.ErrorIs(t, loop.ScheduleMicrotask(func() {}), ErrLoopTerminated)
	_, err = loop.ScheduleTimer(time.Second, func() {})
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestLoop_RunReentrant(t *testing.T) {
	loop := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	got := make(chan error, 1)
	require.NoError(t, loop.Submit(func() { got <- loop.Run(ctx) }))

	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateAwake:       "Awake",
		StateRunning:     "Running",
		StateSleeping:    "Sleeping",
		StateTerminating: "Terminating",
		StateTerminated:  "Terminated",
		LoopState(99):    "Unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d: got %q, want %q", state, got, want)
		}
	}
}
