package pool

import "sync"

// backlog is the unbounded FIFO in front of a set of pool workers.
type backlog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Future
	closed bool
}

func newBacklog() *backlog {
	b := &backlog{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *backlog) push(f *Future) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.items = append(b.items, f)
	b.cond.Signal()
	return true
}

// pop blocks until an item is available. It returns false once the backlog
// is closed and empty.
func (b *backlog) pop() (*Future, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return nil, false
	}

	f := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return f, true
}

func (b *backlog) remove(f *Future) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, queued := range b.items {
		if queued == f {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// close stops admission. Already queued items stay poppable.
func (b *backlog) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// drain removes and returns every queued item.
func (b *backlog) drain() []*Future {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
