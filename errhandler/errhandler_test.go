package errhandler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_HandlerThenListeners(t *testing.T) {
	h := NewErrorHandler()

	var calls []string
	h.SetUnexpectedErrorHandler(func(err any) {
		calls = append(calls, fmt.Sprint("handler ", err))
	})
	h.AddListener(func(err any) { calls = append(calls, fmt.Sprint("a ", err)) })
	h.AddListener(func(err any) { calls = append(calls, fmt.Sprint("b ", err)) })

	h.OnUnexpectedError("x")

	assert.Equal(t, []string{"handler x", "a x", "b x"}, calls)
}

func TestErrorHandler_SetReturnsPrevious(t *testing.T) {
	h := NewErrorHandler()

	var first, second int
	h.SetUnexpectedErrorHandler(func(any) { first++ })
	previous := h.SetUnexpectedErrorHandler(func(any) { second++ })
	require.NotNil(t, previous)

	h.OnUnexpectedError(nil)
	previous(nil)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	// restore
	h.SetUnexpectedErrorHandler(previous)
	h.OnUnexpectedError(nil)
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
}

func TestErrorHandler_NilHandlerStillNotifiesListeners(t *testing.T) {
	h := NewErrorHandler()
	h.SetUnexpectedErrorHandler(nil)

	var got any
	h.AddListener(func(err any) { got = err })
	h.OnUnexpectedError(42)

	assert.Equal(t, 42, got)
}

func TestErrorHandler_RemoveListener(t *testing.T) {
	h := NewErrorHandler()
	h.SetUnexpectedErrorHandler(nil)

	var a, b int
	removeA := h.AddListener(func(any) { a++ })
	h.AddListener(func(any) { b++ })

	removeA()
	removeA()
	h.OnUnexpectedError(nil)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	// nil listeners are ignored
	h.AddListener(nil)()
	h.OnUnexpectedError(nil)
	assert.Equal(t, 2, b)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := LogHandler(NewLogger(&buf))

	handler(WithStack(errors.New("some failure")))
	handler("not an error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `some failure`)
	assert.Contains(t, lines[0], `"stack"`)
	assert.Contains(t, lines[0], `TestLogHandler`)
	assert.Contains(t, lines[1], `not an error`)
	assert.NotContains(t, lines[1], `"stack"`)
	for _, line := range lines {
		assert.Contains(t, line, `unexpected error`)
	}
}

func TestLogHandler_NilLogger(t *testing.T) {
	LogHandler(nil)(errors.New("ignored"))
}

func TestDefault(t *testing.T) {
	var got []any
	previous := SetUnexpectedErrorHandler(func(err any) { got = append(got, err) })
	defer SetUnexpectedErrorHandler(previous)

	var listened []any
	remove := AddListener(func(err any) { listened = append(listened, err) })
	defer remove()

	OnUnexpectedError("value")

	assert.Equal(t, []any{"value"}, got)
	assert.Equal(t, []any{"value"}, listened)
}

func TestIsCancellationError(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    any
		want bool
	}{
		{"sentinel", ErrCanceled, true},
		{"constructed", Canceled(), true},
		{"wrapped", fmt.Errorf("op: %w", ErrCanceled), true},
		{"context", context.Canceled, true},
		{"wrapped context", fmt.Errorf("op: %w", context.Canceled), true},
		{"deadline", context.DeadlineExceeded, false},
		{"other error", errors.New("Canceled"), false},
		{"string", "Canceled", false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsCancellationError(tc.v))
		})
	}
}

type tracer string

func (x tracer) StackTrace() string { return string(x) }

type tracerError struct{ stack string }

func (x *tracerError) Error() string      { return "traced" }
func (x *tracerError) StackTrace() string { return x.stack }

func TestStackTrace(t *testing.T) {
	err := WithStack(errors.New("with stack"))
	stack, ok := StackTrace(err)
	require.True(t, ok)
	assert.Contains(t, stack, "TestStackTrace")

	stack, ok = StackTrace(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	assert.Contains(t, stack, "TestStackTrace")

	stack, ok = StackTrace(tracer("non error"))
	assert.True(t, ok)
	assert.Equal(t, "non error", stack)

	_, ok = StackTrace(&tracerError{})
	assert.False(t, ok, "empty stack")

	_, ok = StackTrace(errors.New("plain"))
	assert.False(t, ok)

	_, ok = StackTrace("string")
	assert.False(t, ok)

	_, ok = StackTrace(nil)
	assert.False(t, ok)

	assert.Nil(t, WithStack(nil))
	assert.Equal(t, "with stack", err.Error())
}

func TestCanceled_HasStack(t *testing.T) {
	stack, ok := StackTrace(Canceled())
	require.True(t, ok)
	assert.Contains(t, stack, "TestCanceled_HasStack")
}
