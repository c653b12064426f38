package work

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNewWorkItem(t *testing.T) {
	item, err := NewWorkItem("prices", func(ctx context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID())
	assert.Equal(t, "prices", item.Operation())
	assert.Equal(t, Thread, item.Kind())
	assert.False(t, item.CreatedAt().IsZero())
	assert.Empty(t, item.ProcessFunc())
	assert.Nil(t, item.ProcessArgs())

	v, err := item.Func()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	other, err := NewWorkItem("prices", item.Func())
	require.NoError(t, err)
	assert.NotEqual(t, item.ID(), other.ID())
}

func TestNewWorkItem_NilFunc(t *testing.T) {
	_, err := NewWorkItem("prices", nil)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProcessItem(t *testing.T) {
	item, err := NewProcessItem("features", "benchmark.features", map[string]int{"bars": 500})
	require.NoError(t, err)

	assert.Equal(t, Process, item.Kind())
	assert.Equal(t, "benchmark.features", item.ProcessFunc())
	assert.Nil(t, item.Func())

	var args map[string]int
	require.NoError(t, msgpack.Unmarshal(item.ProcessArgs(), &args))
	assert.Equal(t, 500, args["bars"])

	// Callers get a copy
	raw := item.ProcessArgs()
	raw[0] = 0
	assert.NotEqual(t, raw, item.ProcessArgs())
}

func TestNewProcessItem_Rejects(t *testing.T) {
	t.Run("unserializable", func(t *testing.T) {
		_, err := NewProcessItem("features", "benchmark.features", make(chan int))
		assert.ErrorIs(t, err, ErrNotSerializable)
		assert.Equal(t, ErrorKindConfig, ErrorKind(err))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := NewProcessItem("features", "", 1)
		assert.ErrorIs(t, err, ErrUnknownProcessFunc)
	})
}

func TestWorkItem_String(t *testing.T) {
	item, err := NewWorkItem("orders", func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, "orders(thread):"+item.ID(), item.String())
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("broker down")
	failure := &ExecutionFailure{Operation: "orders", Kind: Thread, Cause: cause}
	assert.ErrorIs(t, failure, cause)
	assert.Contains(t, failure.Error(), "broker down")

	timeout := &ExecutionTimeout{Operation: "orders"}
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.Contains(t, timeout.Error(), "may still be running")

	full := &QueueFullError{Operation: "orders", Capacity: 5}
	assert.ErrorIs(t, full, ErrQueueFull)
	assert.Contains(t, full.Error(), "capacity 5")

	dup := &DuplicateItemError{Operation: "orders", ItemID: "abc"}
	assert.ErrorIs(t, dup, ErrDuplicateItem)
	assert.Contains(t, dup.Error(), "abc")

	cfg := &ConfigurationError{Operation: "orders", Reason: ErrProcessPoolDisabled, Detail: "enable it"}
	assert.ErrorIs(t, cfg, ErrProcessPoolDisabled)
	assert.Equal(t, "offload: configuration error for orders: offload: process pool disabled (enable it)", cfg.Error())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain failure", errors.New("boom"), ErrorKindFailure},
		{"wrapped failure", &ExecutionFailure{Cause: errors.New("boom")}, ErrorKindFailure},
		{"panic", &ExecutionFailure{Cause: fmt.Errorf("%w: oops", ErrPanic)}, ErrorKindPanic},
		{"terminated", ErrTerminated, ErrorKindTerminated},
		{"crashed", fmt.Errorf("call: %w", ErrWorkerCrashed), ErrorKindCrashed},
		{"discarded", ErrDiscarded, ErrorKindDiscarded},
		{"pool closed", ErrPoolClosed, ErrorKindDiscarded},
		{"timeout", &ExecutionTimeout{}, ErrorKindTimeout},
		{"deadline", context.DeadlineExceeded, ErrorKindTimeout},
		{"cancelled", context.Canceled, ErrorKindCancelled},
		{"wait cancelled", ErrWaitCancelled, ErrorKindCancelled},
		{"configuration", &ConfigurationError{Reason: ErrUnknownProcessFunc}, ErrorKindConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
