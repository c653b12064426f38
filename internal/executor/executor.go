// Package executor is the public face of the offload framework. It composes
// the worker pools, the bounded fire-and-forget queue and the metrics
// recorder, and owns their lifecycle.
//
// Code running on a cooperative loop must never call blocking functions
// directly. It hands them to the executor instead, either awaiting the result
// from its own goroutine (RunBlocking, RunBatch), getting it posted back onto
// the loop (Offload), or not waiting at all (Enqueue).
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/pool"
	"github.com/aristath/sentinel-offload/internal/queue"
	"github.com/aristath/sentinel-offload/internal/work"
)

// State is the executor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Executor runs blocking work off the caller's loop.
type Executor struct {
	cfg      PoolConfiguration
	recorder *metrics.Recorder
	log      zerolog.Logger

	mu      sync.RWMutex
	state   State
	pool    *pool.Pool
	queue   *queue.TaskQueue
	workers *queue.Workers

	// IDs of items that are queued or running
	activeMu sync.Mutex
	active   map[string]struct{}

	inFlight atomic.Int64
	enqueued atomic.Uint64
	rejected atomic.Uint64
	timedOut atomic.Uint64
}

// New validates cfg and creates a stopped executor.
func New(cfg PoolConfiguration, log zerolog.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		cfg:      cfg,
		recorder: metrics.NewRecorder(cfg.MetricsRetention),
		active:   make(map[string]struct{}),
		log:      log.With().Str("component", "executor").Logger(),
	}, nil
}

// Config returns the configuration the executor was created with.
func (e *Executor) Config() PoolConfiguration {
	return e.cfg
}

// Recorder exposes the metrics recorder, e.g. to attach observers.
func (e *Executor) Recorder() *metrics.Recorder {
	return e.recorder
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Running reports whether work can be submitted.
func (e *Executor) Running() bool {
	return e.State() == StateRunning
}

// Start creates the worker pools and the queue and launches the drain
// workers. Starting a running executor is a no-op; a stopped executor can be
// started again.
func (e *Executor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		e.log.Warn().Msg("Executor already running, ignoring start")
		return nil
	case StateStopping:
		return errors.New("executor is stopping")
	}

	p, err := pool.New(pool.Config{
		ThreadWorkers:  e.cfg.ThreadWorkers,
		ProcessWorkers: e.cfg.ProcessWorkers,
		Command:        e.cfg.ProcessCommand,
	}, e.log)
	if err != nil {
		return err
	}

	q := queue.New(e.cfg.QueueCapacity)
	workers := queue.NewWorkers(q, e.cfg.QueueWorkers, e.drainHandler(p), e.recordUnreported)
	workers.SetLogger(e.log)
	workers.SetPollInterval(e.cfg.PollInterval)
	workers.Start()

	e.pool = p
	e.queue = q
	e.workers = workers
	e.state = StateRunning

	e.log.Info().
		Int("thread_workers", e.cfg.ThreadWorkers).
		Int("process_workers", e.cfg.ProcessWorkers).
		Int("queue_capacity", e.cfg.QueueCapacity).
		Int("queue_workers", e.cfg.QueueWorkers).
		Str("stop_mode", e.cfg.StopMode.String()).
		Msg("Executor started")
	return nil
}

// Stop closes the queue according to the configured stop mode, waits for the
// drain workers and in-flight pool work, and stops worker processes. When ctx
// ends first the remaining work is abandoned and ctx's error is returned; the
// executor is stopped either way. Stop is idempotent.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	p, workers := e.pool, e.workers
	e.mu.Unlock()

	e.log.Info().Str("mode", e.cfg.StopMode.String()).Msg("Stopping executor")

	discarded, workersErr := workers.Stop(ctx, e.cfg.StopMode)
	for _, item := range discarded {
		e.recordUnreported(item, work.ErrDiscarded)
	}
	poolErr := p.Shutdown(ctx)

	e.mu.Lock()
	e.state = StateStopped
	e.pool = nil
	e.queue = nil
	e.workers = nil
	e.mu.Unlock()

	if err := errors.Join(workersErr, poolErr); err != nil {
		e.log.Warn().Err(err).Msg("Executor stopped with abandoned work")
		return err
	}
	e.log.Info().Int("discarded", len(discarded)).Msg("Executor stopped")
	return nil
}

// GetMetrics returns the lastN most recent outcome records, oldest first.
// lastN <= 0 returns the whole retained window.
func (e *Executor) GetMetrics(lastN int) []metrics.OperationMetric {
	return e.recorder.Snapshot(lastN)
}

// GetSummary returns overall and per-operation statistics over the retained
// window.
func (e *Executor) GetSummary() metrics.Report {
	return e.recorder.Report()
}

// ClearMetrics empties the retained window.
func (e *Executor) ClearMetrics() {
	e.recorder.Clear()
	e.log.Info().Msg("Executor metrics cleared")
}

// QueueDepth returns the number of queued items, 0 when stopped.
func (e *Executor) QueueDepth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.queue == nil {
		return 0
	}
	return e.queue.Depth()
}

// Stats is a point-in-time view of the executor.
type Stats struct {
	State              string     `json:"state"`
	ThreadWorkers      int        `json:"thread_workers"`
	ProcessWorkers     int        `json:"process_workers"`
	ProcessPoolEnabled bool       `json:"process_pool_enabled"`
	QueueDepth         int        `json:"queue_depth"`
	QueueCapacity      int        `json:"queue_capacity"`
	QueueWorkers       int        `json:"queue_workers"`
	InFlight           int64      `json:"in_flight"`
	Enqueued           uint64     `json:"enqueued"`
	Rejected           uint64     `json:"rejected"`
	QueueProcessed     uint64     `json:"queue_processed"`
	QueueFailed        uint64     `json:"queue_failed"`
	TimedOut           uint64     `json:"timed_out"`
	MetricsRetained    int        `json:"metrics_retained"`
	MetricsTotal       uint64     `json:"metrics_total"`
	Pool               pool.Stats `json:"pool"`
}

// Stats returns the current executor counters.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		State:              e.state.String(),
		ThreadWorkers:      e.cfg.ThreadWorkers,
		ProcessWorkers:     e.cfg.ProcessWorkers,
		ProcessPoolEnabled: e.cfg.ProcessWorkers > 0,
		QueueCapacity:      e.cfg.QueueCapacity,
		QueueWorkers:       e.cfg.QueueWorkers,
		InFlight:           e.inFlight.Load(),
		Enqueued:           e.enqueued.Load(),
		Rejected:           e.rejected.Load(),
		TimedOut:           e.timedOut.Load(),
		MetricsRetained:    e.recorder.Len(),
		MetricsTotal:       e.recorder.Total(),
	}
	if e.queue != nil {
		s.QueueDepth = e.queue.Depth()
	}
	if e.workers != nil {
		s.QueueProcessed, s.QueueFailed = e.workers.Stats()
	}
	if e.pool != nil {
		s.Pool = e.pool.Stats()
	}
	return s
}

// running returns the pool if the executor accepts work.
func (e *Executor) running() (*pool.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateRunning {
		return nil, work.ErrNotRunning
	}
	return e.pool, nil
}

// claim marks item as queued or running, rejecting a second submission of
// the same ID until the first one has been recorded.
func (e *Executor) claim(item *work.WorkItem) error {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, ok := e.active[item.ID()]; ok {
		return &work.DuplicateItemError{Operation: item.Operation(), ItemID: item.ID()}
	}
	e.active[item.ID()] = struct{}{}
	return nil
}

func (e *Executor) release(id string) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

// submit hands item to p, recording its outcome under source once it finishes.
func (e *Executor) submit(p *pool.Pool, item *work.WorkItem, source metrics.Source) (*pool.Future, error) {
	e.inFlight.Add(1)
	f, err := p.Submit(item, func(o pool.Outcome) {
		e.inFlight.Add(-1)
		e.record(o, source)
	})
	if err != nil {
		e.inFlight.Add(-1)
		if errors.Is(err, work.ErrPoolClosed) {
			return nil, work.ErrNotRunning
		}
		return nil, err
	}
	return f, nil
}

func (e *Executor) record(o pool.Outcome, source metrics.Source) {
	e.release(o.Item.ID())
	e.recorder.Record(metrics.OperationMetric{
		Operation:   o.Item.Operation(),
		ItemID:      o.Item.ID(),
		Duration:    o.Duration(),
		Success:     o.Err == nil,
		ErrorKind:   work.ErrorKind(o.Err),
		Kind:        o.Item.Kind(),
		Source:      source,
		CompletedAt: o.Finished,
	})
}

// recordUnreported records queue items that never produced a pool outcome.
func (e *Executor) recordUnreported(item *work.WorkItem, err error) {
	e.record(pool.Outcome{Item: item, Err: err, Finished: time.Now()}, metrics.SourceQueue)
}

// drainHandler runs one dequeued item on p and waits for it, so the number of
// drain workers bounds how much queued work runs at once.
func (e *Executor) drainHandler(p *pool.Pool) queue.Handler {
	return func(ctx context.Context, item *work.WorkItem) error {
		f, err := e.submit(p, item, metrics.SourceQueue)
		if err != nil {
			e.recordUnreported(item, err)
			return err
		}
		_, err = f.Wait(ctx)
		return err
	}
}
