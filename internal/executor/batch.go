package executor

import (
	"context"

	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/pool"
	"github.com/aristath/sentinel-offload/internal/work"
)

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	Operation string
	ItemID    string
	Value     any
	Err       error
}

// BatchResults holds one result per submitted item, in submission order.
type BatchResults []BatchResult

// FirstError returns the error of the lowest-indexed failed item, or nil.
func (r BatchResults) FirstError() error {
	for _, res := range r {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// Values returns the item values in submission order; failed items are nil.
func (r BatchResults) Values() []any {
	values := make([]any, len(r))
	for i, res := range r {
		values[i] = res.Value
	}
	return values
}

// Failed returns how many items failed.
func (r BatchResults) Failed() int {
	n := 0
	for _, res := range r {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// RunBatch runs every item concurrently and waits for all of them. Result i
// always belongs to items[i], whatever order they finish in. A failing item
// never stops the others; use FirstError to fail the batch as a whole.
// WithTimeout bounds the whole batch: items still running when it elapses
// report *work.ExecutionTimeout.
func (e *Executor) RunBatch(ctx context.Context, items []*work.WorkItem, opts ...CallOption) (BatchResults, error) {
	p, err := e.running()
	if err != nil {
		return nil, err
	}

	results := make(BatchResults, len(items))
	futures := make([]*pool.Future, len(items))
	for i, item := range items {
		results[i] = BatchResult{Operation: item.Operation(), ItemID: item.ID()}
		if err := e.claim(item); err != nil {
			results[i].Err = err
			continue
		}
		f, err := e.submit(p, item, metrics.SourceBatch)
		if err != nil {
			e.release(item.ID())
			results[i].Err = err
			continue
		}
		futures[i] = f
	}

	o := newCallOptions(opts)
	waitCtx, cancel := o.waitContext(ctx)
	defer cancel()
	for i, f := range futures {
		if f == nil {
			continue
		}
		results[i].Value, results[i].Err = e.awaitWith(ctx, waitCtx, f, o)
	}
	return results, nil
}

// RunBatchFuncs is RunBatch for THREAD functions sharing one operation name.
func (e *Executor) RunBatchFuncs(ctx context.Context, operation string, fns []work.Func, opts ...CallOption) (BatchResults, error) {
	items := make([]*work.WorkItem, len(fns))
	for i, fn := range fns {
		item, err := work.NewWorkItem(operation, fn)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return e.RunBatch(ctx, items, opts...)
}
