package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aristath/sentinel-offload/internal/work"
)

// Outcome is what happened to one submitted item. Err is the raw cause,
// not wrapped in *work.ExecutionFailure.
type Outcome struct {
	Item     *work.WorkItem
	Value    any
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration is the execution time, or zero if the item never started.
func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

type futureState int

const (
	stateQueued futureState = iota
	stateRunning
	stateFinished
)

// Future is the handle of a submitted item.
type Future struct {
	item   *work.WorkItem
	owner  *backlog
	onDone []func(Outcome)

	done      chan struct{}
	cancelled chan struct{}
	cancelOne sync.Once

	mu        sync.Mutex
	state     futureState
	outcome   Outcome
	terminate func()
}

func newFuture(item *work.WorkItem, owner *backlog, onDone []func(Outcome)) *Future {
	return &Future{
		item:      item,
		owner:     owner,
		onDone:    onDone,
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

// Item returns the submitted item.
func (f *Future) Item() *work.WorkItem {
	return f.item
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the outcome is known.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Outcome returns the outcome once the future is done.
func (f *Future) Outcome() (Outcome, bool) {
	if !f.IsDone() {
		return Outcome{}, false
	}
	return f.outcome, true
}

// Wait blocks until the item finishes, the wait is cancelled, or ctx ends.
// Giving up the wait never stops the work itself. A failed item returns
// *work.ExecutionFailure, except configuration problems which are returned
// as *work.ConfigurationError.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result()
	default:
	}

	select {
	case <-f.done:
		return f.result()
	case <-f.cancelled:
		return nil, work.ErrWaitCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel releases every waiter. An item that has not started yet is removed
// from the backlog and never runs; Cancel reports whether that happened.
func (f *Future) Cancel() bool {
	f.cancelOne.Do(func() { close(f.cancelled) })
	return f.abandon(context.Canceled)
}

// Terminate stops the item. Queued items are removed; a running PROCESS item
// has its worker process killed and fails with work.ErrTerminated. Running
// THREAD items cannot be stopped and Terminate returns false for them.
func (f *Future) Terminate() bool {
	if f.abandon(work.ErrTerminated) {
		return true
	}

	f.mu.Lock()
	kill := f.terminate
	running := f.state == stateRunning
	f.mu.Unlock()

	if !running || kill == nil {
		return false
	}
	kill()
	return true
}

func (f *Future) result() (any, error) {
	o := f.outcome
	if o.Err == nil {
		return o.Value, nil
	}

	var cfgErr *work.ConfigurationError
	if errors.As(o.Err, &cfgErr) {
		return nil, cfgErr
	}
	return nil, &work.ExecutionFailure{
		Operation: f.item.Operation(),
		Kind:      f.item.Kind(),
		ItemID:    f.item.ID(),
		Cause:     o.Err,
	}
}

// abandon finishes a still-queued future with err.
func (f *Future) abandon(err error) bool {
	f.mu.Lock()
	if f.state != stateQueued || f.owner == nil || !f.owner.remove(f) {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()

	now := time.Now()
	f.complete(Outcome{Item: f.item, Err: err, Finished: now})
	return true
}

// markRunning claims a popped future for execution. kill, if set, is used by
// Terminate while the item runs.
func (f *Future) markRunning(kill func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateQueued {
		return false
	}
	f.state = stateRunning
	f.terminate = kill
	return true
}

// complete records the outcome, runs the callbacks, then releases waiters.
func (f *Future) complete(o Outcome) {
	f.mu.Lock()
	if f.state == stateFinished {
		f.mu.Unlock()
		return
	}
	f.state = stateFinished
	f.terminate = nil
	f.outcome = o
	f.mu.Unlock()

	for _, cb := range f.onDone {
		cb(o)
	}
	close(f.done)
}
