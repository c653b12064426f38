package executor

import (
	"errors"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/work"
)

// Enqueue queues fn for background execution and returns its task ID.
// It never blocks: a full queue returns *work.QueueFullError immediately and
// the caller must back off or shed load. The outcome is only visible in the
// metrics.
func (e *Executor) Enqueue(operation string, fn work.Func) (string, error) {
	item, err := work.NewWorkItem(operation, fn)
	if err != nil {
		return "", err
	}
	return e.EnqueueItem(item)
}

// EnqueueProcess queues a call to the registered process function procName.
func (e *Executor) EnqueueProcess(operation, procName string, args any) (string, error) {
	item, err := work.NewProcessItem(operation, procName, args)
	if err != nil {
		return "", err
	}
	return e.EnqueueItem(item)
}

// EnqueueItem queues item for background execution. An item whose ID is
// still queued or running is rejected with *work.DuplicateItemError.
func (e *Executor) EnqueueItem(item *work.WorkItem) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateRunning {
		return "", work.ErrNotRunning
	}
	if item.Kind() == work.Process {
		if !e.pool.ProcessEnabled() {
			return "", &work.ConfigurationError{Operation: item.Operation(), Reason: work.ErrProcessPoolDisabled}
		}
		if !procpool.Registered(item.ProcessFunc()) {
			return "", &work.ConfigurationError{
				Operation: item.Operation(),
				Reason:    work.ErrUnknownProcessFunc,
				Detail:    item.ProcessFunc(),
			}
		}
	}
	if err := e.claim(item); err != nil {
		return "", err
	}

	if err := e.queue.Push(item); err != nil {
		e.release(item.ID())
		if errors.Is(err, work.ErrQueueFull) {
			e.rejected.Add(1)
			e.log.Debug().Str("operation", item.Operation()).Msg("Queue full, rejecting task")
		}
		return "", err
	}
	e.enqueued.Add(1)
	return item.ID(), nil
}
