package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/sentinel-offload/internal/work"
)

type threadPool struct {
	ctx     context.Context
	size    int
	backlog *backlog
	wg      sync.WaitGroup
	active  atomic.Int64
}

func newThreadPool(ctx context.Context, size int) *threadPool {
	return &threadPool{ctx: ctx, size: size, backlog: newBacklog()}
}

func (p *threadPool) start() {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop()
	}
}

func (p *threadPool) loop() {
	defer p.wg.Done()

	for {
		f, ok := p.backlog.pop()
		if !ok {
			return
		}
		if !f.markRunning(nil) {
			continue
		}
		p.run(f)
	}
}

func (p *threadPool) run(f *Future) {
	p.active.Add(1)
	defer p.active.Add(-1)

	started := time.Now()
	value, err := invoke(p.ctx, f.item.Func())
	f.complete(Outcome{
		Item:     f.item,
		Value:    value,
		Err:      err,
		Started:  started,
		Finished: time.Now(),
	})
}

func invoke(ctx context.Context, fn work.Func) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v", work.ErrPanic, r)
		}
	}()
	return fn(ctx)
}
