// Package queue provides the bounded fire-and-forget admission layer of the
// offload executor: a FIFO of pending work items with fail-fast backpressure,
// drained by a small set of long-lived background workers.
package queue

import (
	"sync"
	"time"

	"github.com/aristath/sentinel-offload/internal/work"
)

// CloseMode selects what happens to items still queued when the queue closes.
type CloseMode int

const (
	// DrainThenStop lets workers finish every admitted item before exiting.
	DrainThenStop CloseMode = iota
	// DiscardAndStop drops queued items; Close returns them to the caller.
	DiscardAndStop
)

// String returns a human-readable name for the close mode.
func (m CloseMode) String() string {
	switch m {
	case DrainThenStop:
		return "drain"
	case DiscardAndStop:
		return "discard"
	default:
		return "unknown"
	}
}

// TaskQueue is a bounded FIFO of work items.
//
// States: EMPTY -> HAS_ITEMS -> (pop) -> EMPTY|HAS_ITEMS, and CLOSED once
// Close is called. The buffer is guarded by a single mutex/cond pair.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*work.WorkItem // ring
	head   int
	count  int
	closed bool

	pushed   uint64
	rejected uint64
}

// New creates a queue holding at most capacity items.
func New(capacity int) *TaskQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &TaskQueue{
		items: make([]*work.WorkItem, capacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It never blocks: a full queue returns *work.QueueFullError
// and a closed queue returns work.ErrQueueClosed.
func (q *TaskQueue) Push(item *work.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return work.ErrQueueClosed
	}
	if q.count == len(q.items) {
		q.rejected++
		return &work.QueueFullError{Operation: item.Operation(), Capacity: len(q.items)}
	}

	q.items[(q.head+q.count)%len(q.items)] = item
	q.count++
	q.pushed++
	q.cond.Signal()
	return nil
}

// PopBlocking removes and returns the oldest item, waiting up to timeout for
// one to arrive. It returns nil on timeout, and nil immediately once the queue
// is closed and empty. A non-positive timeout polls without waiting.
func (q *TaskQueue) PopBlocking(timeout time.Duration) *work.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 && !q.closed && timeout > 0 {
		deadline := time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()

		for q.count == 0 && !q.closed && time.Now().Before(deadline) {
			q.cond.Wait()
		}
	}

	if q.count == 0 {
		return nil
	}

	item := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return item
}

// Depth returns the number of queued items.
func (q *TaskQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Capacity returns the maximum number of queued items.
func (q *TaskQueue) Capacity() int {
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *TaskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Counters returns the number of accepted and rejected pushes.
func (q *TaskQueue) Counters() (pushed, rejected uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.rejected
}

// Close stops admission and wakes every waiting popper. With DiscardAndStop
// the queued items are removed and returned oldest first; with DrainThenStop
// they stay poppable. Calling Close again is a no-op returning nil.
func (q *TaskQueue) Close(mode CloseMode) []*work.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.cond.Broadcast()

	if mode != DiscardAndStop {
		return nil
	}

	discarded := make([]*work.WorkItem, 0, q.count)
	for q.count > 0 {
		discarded = append(discarded, q.items[q.head])
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.count--
	}
	return discarded
}
