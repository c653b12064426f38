package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/pool"
	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/reactor"
	"github.com/aristath/sentinel-offload/internal/work"
)

// CallOption configures a single awaited call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout bounds how long the caller waits. When it elapses the call
// returns *work.ExecutionTimeout, but the work itself keeps running and may
// still complete, and change shared state, afterwards. Use a PROCESS item and
// Future.Terminate when the work must actually be stopped.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// RunBlocking runs fn on a worker goroutine and waits for its result.
// fn receives a context that is cancelled only when the executor is forced
// to stop; the caller's ctx and timeout end the wait, not fn.
func (e *Executor) RunBlocking(ctx context.Context, operation string, fn work.Func, opts ...CallOption) (any, error) {
	item, err := work.NewWorkItem(operation, fn)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, item, opts...)
}

// RunProcess runs the registered process function procName in a worker
// process and returns its msgpack-encoded result.
func (e *Executor) RunProcess(ctx context.Context, operation, procName string, args any, opts ...CallOption) ([]byte, error) {
	item, err := work.NewProcessItem(operation, procName, args)
	if err != nil {
		return nil, err
	}
	v, err := e.Run(ctx, item, opts...)
	if err != nil {
		return nil, err
	}
	raw, _ := v.([]byte)
	return raw, nil
}

// Run submits item according to its kind and waits for the result.
// Failures of the work itself return *work.ExecutionFailure; an elapsed
// WithTimeout returns *work.ExecutionTimeout; a cancelled ctx returns an
// error wrapping ctx.Err().
func (e *Executor) Run(ctx context.Context, item *work.WorkItem, opts ...CallOption) (any, error) {
	f, err := e.Submit(item)
	if err != nil {
		return nil, err
	}
	return e.await(ctx, f, opts...)
}

// Submit hands item to the pools without waiting. Loop code uses the
// returned Future, or Offload, instead of blocking.
func (e *Executor) Submit(item *work.WorkItem) (*pool.Future, error) {
	p, err := e.running()
	if err != nil {
		return nil, err
	}
	if err := e.claim(item); err != nil {
		return nil, err
	}
	f, err := e.submit(p, item, metrics.SourceBlocking)
	if err != nil {
		e.release(item.ID())
		return nil, err
	}
	return f, nil
}

// Offload submits item and posts cb(value, err) onto loop once the work
// finishes. cb always runs on the loop, never on a worker.
func (e *Executor) Offload(loop *reactor.Loop, item *work.WorkItem, cb func(value any, err error)) error {
	f, err := e.Submit(item)
	if err != nil {
		return err
	}

	go func() {
		v, err := f.Wait(context.Background())
		if dispatchErr := loop.Dispatch(context.Background(), func() { cb(v, err) }); dispatchErr != nil {
			e.log.Warn().
				Err(dispatchErr).
				Str("operation", item.Operation()).
				Str("loop", loop.Name()).
				Msg("Could not deliver offloaded result to loop")
		}
	}()
	return nil
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// waitContext derives the context a wait runs under. The deadline starts now.
func (o callOptions) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return ctx, func() {}
}

func (e *Executor) await(ctx context.Context, f *pool.Future, opts ...CallOption) (any, error) {
	o := newCallOptions(opts)
	waitCtx, cancel := o.waitContext(ctx)
	defer cancel()
	return e.awaitWith(ctx, waitCtx, f, o)
}

// awaitWith waits for f under waitCtx, which is ctx bounded by o's timeout.
func (e *Executor) awaitWith(ctx, waitCtx context.Context, f *pool.Future, o callOptions) (any, error) {
	v, err := f.Wait(waitCtx)
	if err == nil || f.IsDone() {
		if err != nil && waitCtx.Err() != nil {
			// Finished right as the wait ended: report the real outcome
			return f.Wait(context.Background())
		}
		return v, err
	}

	item := f.Item()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("waiting for %s: %w", item.Operation(), ctxErr)
	}
	if o.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		e.timedOut.Add(1)
		e.log.Debug().
			Str("operation", item.Operation()).
			Str("task_id", item.ID()).
			Dur("timeout", o.timeout).
			Msg("Wait timed out, work continues in background")
		return nil, &work.ExecutionTimeout{Operation: item.Operation(), ItemID: item.ID(), Timeout: o.timeout}
	}
	return nil, err
}

// Call is RunBlocking with a typed result.
func Call[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var zero T
	v, err := e.RunBlocking(ctx, operation, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T, want %T", operation, v, zero)
	}
	return out, nil
}

// CallProcess is RunProcess with the result decoded into T.
func CallProcess[T any](ctx context.Context, e *Executor, operation, procName string, args any, opts ...CallOption) (T, error) {
	raw, err := e.RunProcess(ctx, operation, procName, args, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return procpool.Decode[T](raw)
}
