// Package pool provides the worker pools behind the offload executor: a fixed
// set of goroutines for THREAD work and, optionally, a fixed set of child
// worker processes for PROCESS work. Submissions return a Future.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/work"
)

// Config sizes the pools. ProcessWorkers == 0 disables the process pool.
type Config struct {
	ThreadWorkers  int
	ProcessWorkers int
	Command        procpool.Command
}

// Stats is a point-in-time view of the pools.
type Stats struct {
	ThreadWorkers   int    `json:"thread_workers"`
	ProcessWorkers  int    `json:"process_workers"`
	ThreadBacklog   int    `json:"thread_backlog"`
	ProcessBacklog  int    `json:"process_backlog"`
	ActiveThreads   int64  `json:"active_threads"`
	ActiveProcesses int64  `json:"active_processes"`
	Completed       uint64 `json:"completed"`
	ProcessPIDs     []int  `json:"process_pids,omitempty"`
}

// Pool routes work items to the thread or process workers.
type Pool struct {
	cfg     Config
	threads *threadPool
	procs   *processPool
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool

	completed atomic.Uint64
}

// New starts the pools. Worker processes are spawned before New returns.
func New(cfg Config, log zerolog.Logger) (*Pool, error) {
	if cfg.ThreadWorkers < 1 {
		return nil, &work.ConfigurationError{
			Reason: work.ErrInvalidConfig,
			Detail: fmt.Sprintf("thread workers must be positive, got %d", cfg.ThreadWorkers),
		}
	}
	if cfg.ProcessWorkers < 0 {
		return nil, &work.ConfigurationError{
			Reason: work.ErrInvalidConfig,
			Detail: fmt.Sprintf("process workers must not be negative, got %d", cfg.ProcessWorkers),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "worker_pool").Logger(),
	}

	p.threads = newThreadPool(ctx, cfg.ThreadWorkers)
	p.threads.start()

	if cfg.ProcessWorkers > 0 {
		p.procs = newProcessPool(cfg.ProcessWorkers, cfg.Command, p.log)
		if err := p.procs.start(); err != nil {
			cancel()
			p.threads.backlog.close()
			p.threads.wg.Wait()
			return nil, err
		}
	}

	p.log.Info().
		Int("thread_workers", cfg.ThreadWorkers).
		Int("process_workers", cfg.ProcessWorkers).
		Msg("Worker pool started")

	return p, nil
}

// ProcessEnabled reports whether PROCESS items can be submitted.
func (p *Pool) ProcessEnabled() bool {
	return p.procs != nil
}

// Submit hands item to the matching workers. onDone callbacks run on the
// worker right after the item finishes and before waiters are released.
// Submit never blocks: the backlog is unbounded.
func (p *Pool) Submit(item *work.WorkItem, onDone ...func(Outcome)) (*Future, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, work.ErrPoolClosed
	}

	callbacks := make([]func(Outcome), 0, len(onDone)+1)
	callbacks = append(callbacks, func(Outcome) { p.completed.Add(1) })
	callbacks = append(callbacks, onDone...)

	var b *backlog
	switch item.Kind() {
	case work.Thread:
		b = p.threads.backlog
	case work.Process:
		if p.procs == nil {
			return nil, &work.ConfigurationError{Operation: item.Operation(), Reason: work.ErrProcessPoolDisabled}
		}
		if !procpool.Registered(item.ProcessFunc()) {
			return nil, &work.ConfigurationError{
				Operation: item.Operation(),
				Reason:    work.ErrUnknownProcessFunc,
				Detail:    item.ProcessFunc(),
			}
		}
		b = p.procs.backlog
	default:
		return nil, &work.ConfigurationError{Operation: item.Operation(), Reason: work.ErrInvalidConfig, Detail: "unknown work kind"}
	}

	f := newFuture(item, b, callbacks)
	if !b.push(f) {
		return nil, work.ErrPoolClosed
	}
	return f, nil
}

// Shutdown stops admission and waits for queued and running items to finish.
// When ctx ends first, the remaining backlog fails with work.ErrPoolClosed,
// worker processes are killed, thread callables see their context cancelled,
// and ctx.Err() is returned. Running goroutines cannot be preempted and may
// finish later.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.threads.backlog.close()
	if p.procs != nil {
		p.procs.backlog.close()
	}

	done := make(chan struct{})
	go func() {
		p.threads.wg.Wait()
		if p.procs != nil {
			p.procs.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info().Uint64("completed", p.completed.Load()).Msg("Worker pool stopped")
		return nil
	case <-ctx.Done():
	}

	p.cancel()
	abandoned := p.abandonBacklog()
	if p.procs != nil {
		p.procs.killAll()
	}
	p.log.Warn().
		Err(ctx.Err()).
		Int("abandoned", abandoned).
		Msg("Worker pool shutdown deadline exceeded")
	return fmt.Errorf("shutting down worker pool: %w", ctx.Err())
}

func (p *Pool) abandonBacklog() int {
	futures := p.threads.backlog.drain()
	if p.procs != nil {
		futures = append(futures, p.procs.backlog.drain()...)
	}
	now := time.Now()
	for _, f := range futures {
		if f.markRunning(nil) {
			f.complete(Outcome{Item: f.item, Err: work.ErrPoolClosed, Finished: now})
		}
	}
	return len(futures)
}

// Stats returns the current pool counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		ThreadWorkers: p.cfg.ThreadWorkers,
		ThreadBacklog: p.threads.backlog.len(),
		ActiveThreads: p.threads.active.Load(),
		Completed:     p.completed.Load(),
	}
	if p.procs != nil {
		s.ProcessWorkers = len(p.procs.slots)
		s.ProcessBacklog = p.procs.backlog.len()
		s.ActiveProcesses = p.procs.active.Load()
		s.ProcessPIDs = p.procs.pids()
	}
	return s
}
