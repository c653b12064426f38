// Package reactor provides the cooperative scheduler side of the offload
// executor: a single goroutine running posted tasks one at a time, in order.
// Anything slow that runs on the loop delays every other task behind it,
// which is exactly what offloading avoids.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrBackpressure is returned when the mailbox is full.
	ErrBackpressure = errors.New("reactor: backpressure")

	// ErrStopped is returned when posting to a loop that is not running.
	ErrStopped = errors.New("reactor: stopped")
)

// Loop runs tasks sequentially on one goroutine.
type Loop struct {
	name    string
	mailbox chan func()
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	done    chan struct{}

	executed atomic.Uint64
	panics   atomic.Uint64
}

// New creates a loop whose mailbox holds size pending tasks.
func New(name string, size int, log zerolog.Logger) *Loop {
	if size < 1 {
		size = 1
	}
	return &Loop{
		name:    name,
		mailbox: make(chan func(), size),
		log:     log.With().Str("component", "reactor").Str("loop", name).Logger(),
		done:    make(chan struct{}),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Start launches the loop goroutine. A loop runs at most once.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Post queues fn without blocking.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.started || l.stopped {
		return ErrStopped
	}
	select {
	case l.mailbox <- fn:
		return nil
	default:
		return ErrBackpressure
	}
}

// Dispatch queues fn, waiting for mailbox space until ctx ends.
// It must not be called from a task running on the same loop.
func (l *Loop) Dispatch(ctx context.Context, fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.started || l.stopped {
		return ErrStopped
	}
	select {
	case l.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return len(l.mailbox)
}

// Executed returns how many tasks have run.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

// Stop rejects new tasks, runs the ones already queued, and waits for the
// loop to exit or ctx to end.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return l.wait(ctx)
	}
	l.stopped = true
	started := l.started
	close(l.mailbox)
	l.mu.Unlock()

	if !started {
		close(l.done)
		return nil
	}
	return l.wait(ctx)
}

func (l *Loop) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping loop %s: %w", l.name, ctx.Err())
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for fn := range l.mailbox {
		l.execute(fn)
	}
	l.log.Debug().
		Uint64("executed", l.executed.Load()).
		Uint64("panics", l.panics.Load()).
		Msg("Loop stopped")
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error().Interface("panic", r).Msg("Loop task panicked")
		}
	}()
	l.executed.Add(1)
	fn()
}
