package benchmark

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-offload/internal/executor"
	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/reactor"
	"github.com/aristath/sentinel-offload/internal/work"
)

func TestMain(m *testing.M) {
	procpool.MaybeServe()
	os.Exit(m.Run())
}

func setup(t *testing.T, mutate func(*executor.PoolConfiguration)) (*executor.Executor, *reactor.Loop) {
	t.Helper()

	cfg := executor.DefaultPoolConfiguration()
	cfg.ThreadWorkers = 8
	cfg.PollInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	exec, err := executor.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, exec.Start(context.Background()))

	loop := reactor.New("benchmark", 1024, zerolog.Nop())
	loop.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = loop.Stop(ctx)
		_ = exec.Stop(ctx)
	})
	return exec, loop
}

// Offloaded work keeps heartbeat lag bounded while inline work does not.
func TestRunner_OffloadingBoundsLoopLag(t *testing.T) {
	exec, loop := setup(t, nil)
	runner := NewRunner(exec, loop, zerolog.Nop())

	report, err := runner.Run(context.Background(), Config{
		Concurrency:       8,
		Payload:           SleepPayload(50 * time.Millisecond),
		HeartbeatInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, "benchmark.sleep_50ms", report.Operation)
	assert.Zero(t, report.Baseline.Errors)
	assert.Zero(t, report.Optimized.Errors)

	// Baseline: 8 x 50ms run back to back on the loop
	assert.GreaterOrEqual(t, report.Baseline.Wall, 400*time.Millisecond)
	assert.Greater(t, report.Baseline.Lag.MaxMs, 40.0)

	// Optimized: the loop only submits and receives results
	require.NotZero(t, report.Optimized.Lag.Samples)
	assert.Less(t, report.Optimized.Lag.MaxMs, 50.0)
	assert.Less(t, report.Optimized.Wall, report.Baseline.Wall)

	assert.Greater(t, report.Improvements.WallSpeedup, 1.0)
	assert.Greater(t, report.Improvements.MaxLagReductionPct, 0.0)

	require.NotNil(t, report.Optimized.Executor)
	assert.Equal(t, 8, report.Optimized.Executor.Count)
	assert.Equal(t, 1.0, report.Optimized.Executor.SuccessRate)
	assert.Greater(t, report.System.CPUs, 0)
}

func TestRunner_DoesNotClearExecutorMetrics(t *testing.T) {
	exec, loop := setup(t, nil)

	_, err := exec.RunBlocking(context.Background(), "existing", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	runner := NewRunner(exec, loop, zerolog.Nop())
	_, err = runner.Run(context.Background(), Config{Concurrency: 2, Payload: SleepPayload(time.Millisecond)})
	require.NoError(t, err)

	report := exec.GetSummary()
	assert.Equal(t, 1, report.Operations["existing"].Count)
	assert.Equal(t, 2, report.Operations["benchmark.sleep_1ms"].Count)
	assert.Equal(t, executor.StateRunning, exec.State())
}

func TestRunner_RequiresRunningExecutor(t *testing.T) {
	exec, err := executor.New(executor.DefaultPoolConfiguration(), zerolog.Nop())
	require.NoError(t, err)
	loop := reactor.New("idle", 1, zerolog.Nop())

	_, err = NewRunner(exec, loop, zerolog.Nop()).Run(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRunner_ProcessFeatures(t *testing.T) {
	exec, loop := setup(t, func(c *executor.PoolConfiguration) { c.ProcessWorkers = 2 })
	runner := NewRunner(exec, loop, zerolog.Nop())

	report, err := runner.Run(context.Background(), Config{
		Concurrency: 4,
		Payload:     FeatureProcessPayload(500, 5),
	})
	require.NoError(t, err)
	assert.Zero(t, report.Optimized.Errors)
	assert.Equal(t, 4, report.Optimized.Executor.Count)
}

func TestComputeFeatures(t *testing.T) {
	f, err := ComputeFeatures(FeatureArgs{Bars: 300, Rounds: 2, Seed: 7})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, f.RSI, 0.0)
	assert.LessOrEqual(t, f.RSI, 100.0)
	assert.Greater(t, f.EMA, 0.0)
	assert.Greater(t, f.BBUpper, f.BBLower)

	again, err := ComputeFeatures(FeatureArgs{Bars: 300, Rounds: 1, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, f, again, "seeded series must be deterministic")

	_, err = ComputeFeatures(FeatureArgs{Bars: 10})
	assert.Error(t, err)
}

func TestFeaturePayload_Kinds(t *testing.T) {
	thread := FeaturePayload(100, 1)
	assert.Equal(t, work.Thread, thread.Kind)

	proc := FeatureProcessPayload(100, 1)
	assert.Equal(t, work.Process, proc.Kind)
	assert.Equal(t, FeaturesFunc, proc.ProcessFunc)

	item, err := proc.item("op")
	require.NoError(t, err)
	assert.Equal(t, work.Process, item.Kind())
	assert.True(t, procpool.Registered(FeaturesFunc))
}

func TestLagStats(t *testing.T) {
	assert.Equal(t, LagStats{}, lagStats(nil))

	s := lagStats([]float64{5, 1, 3, 2, 4})
	assert.Equal(t, 5, s.Samples)
	assert.InDelta(t, 3, s.MeanMs, 1e-9)
	assert.InDelta(t, 5, s.MaxMs, 1e-9)
	assert.InDelta(t, 5, s.P95Ms, 1e-9)
}

func TestReport_Render(t *testing.T) {
	report := &Report{
		Operation:   "benchmark.sleep_50ms",
		Payload:     "sleep_50ms",
		Concurrency: 8,
		Baseline:    ScenarioResult{Name: "baseline", Wall: 400 * time.Millisecond, Lag: LagStats{Samples: 10, MaxMs: 50}},
		Optimized:   ScenarioResult{Name: "optimized", Wall: 60 * time.Millisecond, Lag: LagStats{Samples: 12, MaxMs: 2}},
		Improvements: Improvements{
			WallSpeedup:        6.67,
			MaxLagReductionPct: 96,
		},
		System: SystemSnapshot{CPUs: 4, GoMaxProcs: 4},
	}

	var buf bytes.Buffer
	report.Render(&buf)
	out := buf.String()

	assert.Contains(t, out, "sleep_50ms x8")
	assert.Contains(t, out, "BASELINE")
	assert.Contains(t, out, "6.67x")
	assert.Contains(t, out, "96.0%")
	assert.Contains(t, out, "GOMAXPROCS")
}
