// Package benchmark measures how much offloading keeps a cooperative loop
// responsive. It runs the same synthetic load twice, once inline on the loop
// and once through the executor, while a heartbeat probe measures loop lag.
// It only reads executor metrics; it never clears or reconfigures anything.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sentinel-offload/internal/executor"
	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/reactor"
)

// Defaults applied to a zero Config.
const (
	DefaultConcurrency       = 8
	DefaultHeartbeatInterval = 10 * time.Millisecond
)

// Config describes one benchmark run.
type Config struct {
	Concurrency       int
	Payload           Payload
	HeartbeatInterval time.Duration
	// Operation tags the optimized run's metrics. Defaults to "benchmark.<payload>".
	Operation string
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Payload.Fn == nil {
		c.Payload = SleepPayload(50 * time.Millisecond)
	}
	if c.Operation == "" {
		c.Operation = "benchmark." + c.Payload.Name
	}
	return c
}

// ScenarioResult is the measurement of one scenario.
type ScenarioResult struct {
	Name       string           `json:"name"`
	Operations int              `json:"operations"`
	Errors     int              `json:"errors"`
	Wall       time.Duration    `json:"wall"`
	Throughput float64          `json:"throughput_per_sec"`
	Lag        LagStats         `json:"lag"`
	Executor   *metrics.Summary `json:"executor,omitempty"`
}

// Improvements compares the optimized scenario against the baseline.
// Reductions are percentages; positive means the optimized run was better.
type Improvements struct {
	WallSpeedup         float64 `json:"wall_speedup"`
	ThroughputGain      float64 `json:"throughput_gain"`
	MeanLagReductionPct float64 `json:"mean_lag_reduction_pct"`
	P95LagReductionPct  float64 `json:"p95_lag_reduction_pct"`
	MaxLagReductionPct  float64 `json:"max_lag_reduction_pct"`
}

// SystemSnapshot describes the machine the benchmark ran on.
type SystemSnapshot struct {
	CPUs       int     `json:"cpus"`
	GoMaxProcs int     `json:"gomaxprocs"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

// Report is the result of a benchmark run.
type Report struct {
	Operation    string         `json:"operation"`
	Payload      string         `json:"payload"`
	Concurrency  int            `json:"concurrency"`
	StartedAt    time.Time      `json:"started_at"`
	Baseline     ScenarioResult `json:"baseline"`
	Optimized    ScenarioResult `json:"optimized"`
	Improvements Improvements   `json:"improvements"`
	System       SystemSnapshot `json:"system"`
}

// Runner drives benchmark runs against one executor and loop.
type Runner struct {
	exec *executor.Executor
	loop *reactor.Loop
	log  zerolog.Logger
}

// NewRunner creates a runner. The loop must be started and must not be
// shared with other work while a run is in progress.
func NewRunner(exec *executor.Executor, loop *reactor.Loop, log zerolog.Logger) *Runner {
	return &Runner{
		exec: exec,
		loop: loop,
		log:  log.With().Str("component", "benchmark").Logger(),
	}
}

// Run executes the baseline and the optimized scenario and compares them.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Report, error) {
	if !r.exec.Running() {
		return nil, errors.New("benchmark requires a running executor")
	}
	cfg = cfg.withDefaults()

	report := &Report{
		Operation:   cfg.Operation,
		Payload:     cfg.Payload.Name,
		Concurrency: cfg.Concurrency,
		StartedAt:   time.Now(),
	}

	r.log.Info().
		Str("payload", cfg.Payload.Name).
		Int("concurrency", cfg.Concurrency).
		Msg("Running baseline scenario")
	baseline, err := r.runBaseline(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("baseline scenario: %w", err)
	}

	r.log.Info().
		Str("payload", cfg.Payload.Name).
		Str("kind", cfg.Payload.Kind.String()).
		Msg("Running optimized scenario")
	optimized, err := r.runOptimized(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("optimized scenario: %w", err)
	}

	report.Baseline = baseline
	report.Optimized = optimized
	report.Improvements = compare(baseline, optimized)
	report.System = CaptureSystem(ctx, r.log)

	r.log.Info().
		Float64("wall_speedup", report.Improvements.WallSpeedup).
		Float64("max_lag_reduction_pct", report.Improvements.MaxLagReductionPct).
		Msg("Benchmark complete")
	return report, nil
}

// runBaseline executes every payload directly on the loop.
func (r *Runner) runBaseline(ctx context.Context, cfg Config) (ScenarioResult, error) {
	var errCount atomic.Int32
	var wg sync.WaitGroup

	p := startProbe(r.loop, cfg.HeartbeatInterval)
	start := time.Now()

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		err := r.loop.Dispatch(ctx, func() {
			defer wg.Done()
			if _, err := cfg.Payload.Fn(ctx); err != nil {
				errCount.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			p.stop(ctx)
			return ScenarioResult{}, err
		}
	}

	if err := waitGroup(ctx, &wg); err != nil {
		p.stop(ctx)
		return ScenarioResult{}, err
	}
	wall := time.Since(start)

	return ScenarioResult{
		Name:       "baseline",
		Operations: cfg.Concurrency,
		Errors:     int(errCount.Load()),
		Wall:       wall,
		Throughput: throughput(cfg.Concurrency, wall),
		Lag:        p.stop(ctx),
	}, nil
}

// runOptimized submits every payload from the loop through the executor.
func (r *Runner) runOptimized(ctx context.Context, cfg Config) (ScenarioResult, error) {
	var errCount atomic.Int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]struct{}, cfg.Concurrency)

	p := startProbe(r.loop, cfg.HeartbeatInterval)
	start := time.Now()

	for i := 0; i < cfg.Concurrency; i++ {
		item, err := cfg.Payload.item(cfg.Operation)
		if err != nil {
			p.stop(ctx)
			return ScenarioResult{}, err
		}
		mu.Lock()
		ids[item.ID()] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		err = r.loop.Dispatch(ctx, func() {
			offloadErr := r.exec.Offload(r.loop, item, func(_ any, err error) {
				defer wg.Done()
				if err != nil {
					errCount.Add(1)
				}
			})
			if offloadErr != nil {
				errCount.Add(1)
				wg.Done()
			}
		})
		if err != nil {
			wg.Done()
			p.stop(ctx)
			return ScenarioResult{}, err
		}
	}

	if err := waitGroup(ctx, &wg); err != nil {
		p.stop(ctx)
		return ScenarioResult{}, err
	}
	wall := time.Since(start)

	summary := r.runSummary(cfg.Operation, ids)
	return ScenarioResult{
		Name:       "optimized",
		Operations: cfg.Concurrency,
		Errors:     int(errCount.Load()),
		Wall:       wall,
		Throughput: throughput(cfg.Concurrency, wall),
		Lag:        p.stop(ctx),
		Executor:   &summary,
	}, nil
}

// runSummary summarizes the executor metrics of this run's items only.
func (r *Runner) runSummary(operation string, ids map[string]struct{}) metrics.Summary {
	var own []metrics.OperationMetric
	for _, m := range r.exec.GetMetrics(0) {
		if _, ok := ids[m.ItemID]; ok {
			own = append(own, m)
		}
	}
	return metrics.Summarize(operation, own)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func throughput(n int, wall time.Duration) float64 {
	if wall <= 0 {
		return 0
	}
	return float64(n) / wall.Seconds()
}

func compare(baseline, optimized ScenarioResult) Improvements {
	imp := Improvements{
		MeanLagReductionPct: reduction(baseline.Lag.MeanMs, optimized.Lag.MeanMs),
		P95LagReductionPct:  reduction(baseline.Lag.P95Ms, optimized.Lag.P95Ms),
		MaxLagReductionPct:  reduction(baseline.Lag.MaxMs, optimized.Lag.MaxMs),
	}
	if optimized.Wall > 0 {
		imp.WallSpeedup = float64(baseline.Wall) / float64(optimized.Wall)
	}
	if baseline.Throughput > 0 {
		imp.ThroughputGain = optimized.Throughput / baseline.Throughput
	}
	return imp
}

func reduction(before, after float64) float64 {
	if before <= 0 {
		return 0
	}
	return (before - after) / before * 100
}

// CaptureSystem samples CPU and memory usage. Failures are logged and leave
// the affected fields at zero.
func CaptureSystem(ctx context.Context, log zerolog.Logger) SystemSnapshot {
	s := SystemSnapshot{GoMaxProcs: runtime.GOMAXPROCS(0)}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUs = n
	} else {
		log.Warn().Err(err).Msg("Failed to get CPU count")
		s.CPUs = runtime.NumCPU()
	}

	if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemPercent = vm.UsedPercent
	} else {
		log.Warn().Err(err).Msg("Failed to get memory statistics")
	}
	return s
}
