package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/work"
)

const workerCloseTimeout = 2 * time.Second

type processPool struct {
	command procpool.Command
	backlog *backlog
	slots   []*slot
	wg      sync.WaitGroup
	active  atomic.Int64
	log     zerolog.Logger
}

// slot owns at most one worker process and runs one item at a time on it.
// A dead worker is replaced before the next item.
type slot struct {
	id     int
	pool   *processPool
	mu     sync.Mutex
	worker *procpool.Worker
}

func newProcessPool(size int, command procpool.Command, log zerolog.Logger) *processPool {
	p := &processPool{
		command: command,
		backlog: newBacklog(),
		log:     log.With().Str("pool", "process").Logger(),
	}
	for i := 0; i < size; i++ {
		p.slots = append(p.slots, &slot{id: i, pool: p})
	}
	return p
}

func (p *processPool) start() error {
	for _, s := range p.slots {
		if _, err := s.ensureWorker(); err != nil {
			for _, started := range p.slots {
				started.close()
			}
			return err
		}
	}

	p.wg.Add(len(p.slots))
	for _, s := range p.slots {
		go s.loop()
	}
	return nil
}

func (p *processPool) killAll() {
	for _, s := range p.slots {
		s.mu.Lock()
		if s.worker != nil {
			s.worker.Kill()
		}
		s.mu.Unlock()
	}
}

func (p *processPool) pids() []int {
	pids := make([]int, 0, len(p.slots))
	for _, s := range p.slots {
		s.mu.Lock()
		if s.worker != nil && s.worker.Alive() {
			pids = append(pids, s.worker.Pid())
		}
		s.mu.Unlock()
	}
	return pids
}

func (s *slot) ensureWorker() (*procpool.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil && s.worker.Alive() {
		return s.worker, nil
	}

	w, err := procpool.Spawn(s.pool.command, s.pool.log.With().Int("slot", s.id).Logger())
	if err != nil {
		return nil, fmt.Errorf("spawning worker process for slot %d: %w", s.id, err)
	}
	s.worker = w
	return w, nil
}

func (s *slot) discard(w *procpool.Worker) {
	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
	}
	s.mu.Unlock()
	w.Close(0)
}

func (s *slot) close() {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.mu.Unlock()
	if w != nil {
		w.Close(workerCloseTimeout)
	}
}

func (s *slot) loop() {
	defer s.pool.wg.Done()
	defer s.close()

	for {
		f, ok := s.pool.backlog.pop()
		if !ok {
			return
		}
		s.run(f)
	}
}

func (s *slot) run(f *Future) {
	w, err := s.ensureWorker()
	if err != nil {
		if f.markRunning(nil) {
			s.pool.log.Error().Err(err).Msg("Worker process unavailable")
			f.complete(Outcome{Item: f.item, Err: fmt.Errorf("%w: %v", work.ErrWorkerCrashed, err), Finished: time.Now()})
		}
		return
	}
	if !f.markRunning(w.Kill) {
		return
	}

	s.pool.active.Add(1)
	defer s.pool.active.Add(-1)

	started := time.Now()
	raw, err := w.Call(f.item.ProcessFunc(), f.item.ProcessArgs())
	finished := time.Now()

	if errors.Is(err, work.ErrWorkerCrashed) || errors.Is(err, work.ErrTerminated) {
		s.pool.log.Warn().
			Err(err).
			Int("slot", s.id).
			Str("operation", f.item.Operation()).
			Msg("Worker process lost, replacing")
		s.discard(w)
	}

	// Process results stay msgpack-encoded ([]byte) for the caller to decode
	var value any
	if err == nil {
		value = raw
	}
	f.complete(Outcome{Item: f.item, Value: value, Err: err, Started: started, Finished: finished})
}
