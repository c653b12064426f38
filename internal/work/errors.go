package work

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotRunning is returned when work is submitted to a stopped executor.
	ErrNotRunning = errors.New("offload: executor not running")

	// ErrQueueFull is matched by every QueueFullError.
	ErrQueueFull = errors.New("offload: queue full")

	// ErrQueueClosed is returned by pushes after the queue was closed.
	ErrQueueClosed = errors.New("offload: queue closed")

	// ErrPoolClosed is returned for submissions to (or backlog left in) a shut down pool.
	ErrPoolClosed = errors.New("offload: worker pool closed")

	// ErrTimeout is matched by every ExecutionTimeout.
	ErrTimeout = errors.New("offload: wait timed out")

	// ErrProcessPoolDisabled is the reason for PROCESS submissions without a process pool.
	ErrProcessPoolDisabled = errors.New("offload: process pool disabled")

	// ErrNotSerializable is the reason for process arguments that cannot be encoded.
	ErrNotSerializable = errors.New("offload: value not serializable")

	// ErrUnknownProcessFunc is the reason for calls to an unregistered process function.
	ErrUnknownProcessFunc = errors.New("offload: unknown process function")

	// ErrInvalidConfig is the reason for rejected pool configuration values.
	ErrInvalidConfig = errors.New("offload: invalid configuration")

	// ErrWorkerCrashed is the cause when a worker process exits mid-task.
	ErrWorkerCrashed = errors.New("offload: worker process crashed")

	// ErrTerminated is the cause when a process task was killed on request.
	ErrTerminated = errors.New("offload: task terminated")

	// ErrPanic is the cause wrapper for a callable that panicked.
	ErrPanic = errors.New("offload: callable panicked")

	// ErrWaitCancelled is returned by a Future whose wait was cancelled.
	ErrWaitCancelled = errors.New("offload: wait cancelled")

	// ErrDiscarded is the cause recorded for queued items dropped by a discard stop.
	ErrDiscarded = errors.New("offload: queued item discarded")

	// ErrDuplicateItem is matched by every DuplicateItemError.
	ErrDuplicateItem = errors.New("offload: item already submitted")
)

// ExecutionFailure reports that the submitted callable itself failed.
// The original error is preserved as Cause and reachable with errors.Is/As.
// Failures are never retried by the executor.
type ExecutionFailure struct {
	Operation string
	Kind      Kind
	ItemID    string
	Cause     error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("offload: %s (%s) failed: %v", e.Operation, e.Kind, e.Cause)
}

// Unwrap returns the callable's error.
func (e *ExecutionFailure) Unwrap() error {
	return e.Cause
}

// ExecutionTimeout reports that the caller stopped waiting. The underlying
// work may still be running and may still complete (and mutate shared state)
// after this error was returned.
type ExecutionTimeout struct {
	Operation string
	ItemID    string
	Timeout   time.Duration
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("offload: %s timed out after %v (work may still be running)", e.Operation, e.Timeout)
}

// Is matches ErrTimeout.
func (e *ExecutionTimeout) Is(target error) bool {
	return target == ErrTimeout
}

// QueueFullError reports an admission rejection. Callers must back off or shed load.
type QueueFullError struct {
	Operation string
	Capacity  int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("offload: queue full (capacity %d), rejected %s", e.Capacity, e.Operation)
}

// Is matches ErrQueueFull.
func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

// DuplicateItemError reports a submission of an item whose ID is still
// queued or running. An item may be submitted again once it has finished.
type DuplicateItemError struct {
	Operation string
	ItemID    string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("offload: %s (%s) is already queued or running", e.Operation, e.ItemID)
}

// Is matches ErrDuplicateItem.
func (e *DuplicateItemError) Is(target error) bool {
	return target == ErrDuplicateItem
}

// ConfigurationError reports a submission or configuration the executor
// refuses to run, such as PROCESS work with the process pool disabled.
type ConfigurationError struct {
	Operation string
	Reason    error
	Detail    string
}

func (e *ConfigurationError) Error() string {
	msg := "offload: configuration error"
	if e.Operation != "" {
		msg += " for " + e.Operation
	}
	msg += ": " + e.Reason.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the reason sentinel.
func (e *ConfigurationError) Unwrap() error {
	return e.Reason
}

// Metric error kinds.
const (
	ErrorKindFailure    = "failure"
	ErrorKindPanic      = "panic"
	ErrorKindTimeout    = "timeout"
	ErrorKindTerminated = "terminated"
	ErrorKindCrashed    = "crashed"
	ErrorKindDiscarded  = "discarded"
	ErrorKindConfig     = "configuration"
	ErrorKindCancelled  = "cancelled"
)

// ErrorKind classifies err for OperationMetric.ErrorKind. Returns "" for nil.
func ErrorKind(err error) string {
	var cfgErr *ConfigurationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPanic):
		return ErrorKindPanic
	case errors.Is(err, ErrTerminated):
		return ErrorKindTerminated
	case errors.Is(err, ErrWorkerCrashed):
		return ErrorKindCrashed
	case errors.Is(err, ErrDiscarded), errors.Is(err, ErrPoolClosed):
		return ErrorKindDiscarded
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrWaitCancelled):
		return ErrorKindCancelled
	case errors.As(err, &cfgErr):
		return ErrorKindConfig
	default:
		return ErrorKindFailure
	}
}
