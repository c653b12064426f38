package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/work"
)

// DefaultPollInterval is how long a drain worker waits on an empty queue
// before re-checking for shutdown.
const DefaultPollInterval = 250 * time.Millisecond

// Handler processes one dequeued item and reports its outcome itself.
// A returned error is logged; it never stops the worker loop.
type Handler func(ctx context.Context, item *work.WorkItem) error

// FailureFunc is told about items whose outcome the handler could not report:
// handler panics, and items skipped because the workers were cancelled.
type FailureFunc func(item *work.WorkItem, err error)

// Workers drains a TaskQueue with a fixed number of background goroutines.
type Workers struct {
	queue        *TaskQueue
	handler      Handler
	onFailure    FailureFunc
	count        int
	pollInterval time.Duration
	log          zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}

	processed uint64
	failed    uint64
}

// NewWorkers creates count drain workers for q. onFailure may be nil.
func NewWorkers(q *TaskQueue, count int, handler Handler, onFailure FailureFunc) *Workers {
	if count < 1 {
		count = 1
	}
	return &Workers{
		queue:        q,
		handler:      handler,
		onFailure:    onFailure,
		count:        count,
		pollInterval: DefaultPollInterval,
		log:          zerolog.Nop(),
		done:         make(chan struct{}),
	}
}

// SetLogger sets the logger for the drain workers.
func (w *Workers) SetLogger(log zerolog.Logger) {
	w.log = log.With().Str("component", "queue_workers").Logger()
}

// SetPollInterval sets the empty-queue wait used between shutdown checks.
func (w *Workers) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start launches the drain goroutines. Workers are single-use: once stopped
// they cannot be started again.
func (w *Workers) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		w.log.Warn().Msg("Queue workers already started, ignoring")
		return
	}
	w.started = true
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(w.count)
	for i := 0; i < w.count; i++ {
		go w.loop(i)
	}

	go func() {
		w.wg.Wait()
		close(w.done)
	}()

	w.log.Info().
		Int("workers", w.count).
		Int("capacity", w.queue.Capacity()).
		Dur("poll_interval", w.pollInterval).
		Msg("Queue workers started")
}

// Stop closes the queue with mode and waits for the workers to exit.
// Discarded items are returned. If ctx expires first, in-flight handlers see
// their context cancelled, remaining items fail fast, and ctx.Err() is
// returned once the workers are gone. Stop is idempotent.
func (w *Workers) Stop(ctx context.Context, mode CloseMode) ([]*work.WorkItem, error) {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.stopped = true
		w.mu.Unlock()
		return w.queue.Close(mode), nil
	}
	w.stopped = true
	w.mu.Unlock()

	discarded := w.queue.Close(mode)

	select {
	case <-w.done:
		w.cancel()
		w.log.Info().Str("mode", mode.String()).Int("discarded", len(discarded)).Msg("Queue workers stopped")
		return discarded, nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		w.log.Warn().Err(ctx.Err()).Msg("Queue workers stop deadline exceeded, remaining items cancelled")
		return discarded, fmt.Errorf("stopping queue workers: %w", ctx.Err())
	}
}

// Stats returns the number of items processed and how many of those failed.
func (w *Workers) Stats() (processed, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed, w.failed
}

func (w *Workers) loop(id int) {
	defer w.wg.Done()

	for {
		item := w.queue.PopBlocking(w.pollInterval)
		if item == nil {
			if w.queue.Closed() && w.queue.Depth() == 0 {
				return
			}
			continue
		}

		unreported, err := w.process(item)

		w.mu.Lock()
		w.processed++
		if err != nil {
			w.failed++
		}
		w.mu.Unlock()

		if err != nil {
			w.log.Warn().
				Err(err).
				Int("worker", id).
				Str("operation", item.Operation()).
				Str("task_id", item.ID()).
				Msg("Queued task failed")
			if unreported && w.onFailure != nil {
				w.onFailure(item, err)
			}
		}
	}
}

// process runs the handler for one item, converting a panic into an error.
// unreported is true when the handler did not get to report the outcome.
func (w *Workers) process(item *work.WorkItem) (unreported bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", work.ErrPanic, r)
			unreported = true
		}
	}()

	if ctxErr := w.ctx.Err(); ctxErr != nil {
		return true, ctxErr
	}
	return false, w.handler(w.ctx, item)
}
