package pool

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/work"
)

func init() {
	procpool.Register("pool.test.double", func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})
	procpool.Register("pool.test.exit", func(ctx context.Context, code int) (int, error) {
		os.Exit(code)
		return 0, nil
	})
	procpool.Register("pool.test.sleep", func(ctx context.Context, ms int) (int, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms, nil
	})
}

func TestMain(m *testing.M) {
	procpool.MaybeServe()
	os.Exit(m.Run())
}

func newPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func threadItem(t *testing.T, op string, fn work.Func) *work.WorkItem {
	t.Helper()
	item, err := work.NewWorkItem(op, fn)
	require.NoError(t, err)
	return item
}

func processItem(t *testing.T, op, fn string, args any) *work.WorkItem {
	t.Helper()
	item, err := work.NewProcessItem(op, fn, args)
	require.NoError(t, err)
	return item
}

func TestNew_RejectsInvalidSizes(t *testing.T) {
	_, err := New(Config{ThreadWorkers: 0}, zerolog.Nop())
	assert.ErrorIs(t, err, work.ErrInvalidConfig)

	_, err = New(Config{ThreadWorkers: 1, ProcessWorkers: -1}, zerolog.Nop())
	assert.ErrorIs(t, err, work.ErrInvalidConfig)
}

func TestPool_ThreadSubmit(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 2})

	var seen Outcome
	f, err := p.Submit(threadItem(t, "features", func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}), func(o Outcome) { seen = o })
	require.NoError(t, err)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsDone())

	// Callbacks run before waiters are released
	assert.Equal(t, 42, seen.Value)
	assert.GreaterOrEqual(t, seen.Duration(), 10*time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Completed)
}

func TestPool_FailureAndPanicIsolation(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1})
	cause := errors.New("no quotes")

	failing, err := p.Submit(threadItem(t, "fails", func(ctx context.Context) (any, error) { return nil, cause }))
	require.NoError(t, err)
	panicking, err := p.Submit(threadItem(t, "panics", func(ctx context.Context) (any, error) { panic("boom") }))
	require.NoError(t, err)
	healthy, err := p.Submit(threadItem(t, "healthy", func(ctx context.Context) (any, error) { return "ok", nil }))
	require.NoError(t, err)

	_, err = failing.Wait(context.Background())
	var failure *work.ExecutionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "fails", failure.Operation)
	assert.ErrorIs(t, err, cause)

	_, err = panicking.Wait(context.Background())
	assert.ErrorIs(t, err, work.ErrPanic)

	v, err := healthy.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPool_BacklogBeyondWorkers(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 2})
	var running, peak atomic.Int32

	futures := make([]*Future, 10)
	for i := range futures {
		f, err := p.Submit(threadItem(t, "burst", func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}))
		require.NoError(t, err)
		futures[i] = f
	}

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFuture_WaitContext(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1})
	release := make(chan struct{})
	defer close(release)

	f, err := p.Submit(threadItem(t, "slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestFuture_CancelQueued(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1})
	release := make(chan struct{})

	blocker, err := p.Submit(threadItem(t, "blocker", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}))
	require.NoError(t, err)

	var ran atomic.Bool
	var outcome Outcome
	queued, err := p.Submit(threadItem(t, "queued", func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}), func(o Outcome) { outcome = o })
	require.NoError(t, err)

	assert.True(t, queued.Cancel())
	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, outcome.Err, context.Canceled)

	// Running items only release their waiters
	assert.False(t, blocker.Cancel())
	_, err = blocker.Wait(context.Background())
	assert.ErrorIs(t, err, work.ErrWaitCancelled)

	close(release)
	<-blocker.Done()
	assert.False(t, ran.Load())
}

func TestFuture_TerminateThread(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1})
	release := make(chan struct{})

	running, err := p.Submit(threadItem(t, "running", func(ctx context.Context) (any, error) {
		<-release
		return "finished", nil
	}))
	require.NoError(t, err)
	queued, err := p.Submit(threadItem(t, "queued", func(ctx context.Context) (any, error) { return nil, nil }))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, queued.Terminate())
	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, work.ErrTerminated)

	assert.False(t, running.Terminate(), "goroutines cannot be preempted")
	close(release)
	v, err := running.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finished", v)
}

func TestPool_ShutdownDrains(t *testing.T) {
	p, err := New(Config{ThreadWorkers: 1}, zerolog.Nop())
	require.NoError(t, err)

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := p.Submit(threadItem(t, "drain", func(ctx context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
			return nil, nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(5), count.Load())

	_, err = p.Submit(threadItem(t, "late", func(ctx context.Context) (any, error) { return nil, nil }))
	assert.ErrorIs(t, err, work.ErrPoolClosed)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownDeadlineAbandonsBacklog(t *testing.T) {
	p, err := New(Config{ThreadWorkers: 1}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Submit(threadItem(t, "stuck", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, err)
	behind, err := p.Submit(threadItem(t, "behind", func(ctx context.Context) (any, error) { return nil, nil }))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = behind.Wait(context.Background())
	assert.ErrorIs(t, err, work.ErrPoolClosed)
}

func TestPool_ProcessDisabled(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1})
	assert.False(t, p.ProcessEnabled())

	_, err := p.Submit(processItem(t, "features", "pool.test.double", 1))
	var cfgErr *work.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, work.ErrProcessPoolDisabled)
}

func TestPool_Process(t *testing.T) {
	p := newPool(t, Config{ThreadWorkers: 1, ProcessWorkers: 1})
	require.True(t, p.ProcessEnabled())
	require.Len(t, p.Stats().ProcessPIDs, 1)

	t.Run("unknown function is rejected at submission", func(t *testing.T) {
		_, err := p.Submit(processItem(t, "x", "pool.test.missing", 1))
		assert.ErrorIs(t, err, work.ErrUnknownProcessFunc)
	})

	t.Run("result is msgpack encoded", func(t *testing.T) {
		f, err := p.Submit(processItem(t, "double", "pool.test.double", 21))
		require.NoError(t, err)

		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		got, err := procpool.Decode[int](v.([]byte))
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("crash fails the item and the worker is replaced", func(t *testing.T) {
		before := p.Stats().ProcessPIDs

		f, err := p.Submit(processItem(t, "crash", "pool.test.exit", 7))
		require.NoError(t, err)
		_, err = f.Wait(context.Background())
		assert.ErrorIs(t, err, work.ErrWorkerCrashed)

		f, err = p.Submit(processItem(t, "double", "pool.test.double", 5))
		require.NoError(t, err)
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		got, err := procpool.Decode[int](v.([]byte))
		require.NoError(t, err)
		assert.Equal(t, 10, got)

		assert.NotEqual(t, before, p.Stats().ProcessPIDs)
	})

	t.Run("terminate kills the running worker", func(t *testing.T) {
		f, err := p.Submit(processItem(t, "sleep", "pool.test.sleep", 10_000))
		require.NoError(t, err)

		require.Eventually(t, func() bool { return p.Stats().ActiveProcesses == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.True(t, f.Terminate())

		_, err = f.Wait(context.Background())
		assert.ErrorIs(t, err, work.ErrTerminated)
	})
}
