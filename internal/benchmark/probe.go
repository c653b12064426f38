package benchmark

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel-offload/internal/reactor"
)

// LagStats describes how late heartbeat tasks ran on the loop.
type LagStats struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// probe posts a no-op heartbeat onto the loop every interval and measures the
// delay between scheduling and running it.
type probe struct {
	loop     *reactor.Loop
	interval time.Duration

	mu      sync.Mutex
	samples []float64

	cancel context.CancelFunc
	done   chan struct{}
}

func startProbe(loop *reactor.Loop, interval time.Duration) *probe {
	ctx, cancel := context.WithCancel(context.Background())
	p := &probe{loop: loop, interval: interval, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scheduled := time.Now()
				_ = loop.Dispatch(ctx, func() {
					p.add(time.Since(scheduled))
				})
			}
		}
	}()
	return p
}

func (p *probe) add(lag time.Duration) {
	p.mu.Lock()
	p.samples = append(p.samples, float64(lag)/float64(time.Millisecond))
	p.mu.Unlock()
}

// stop ends the probe and waits until every posted heartbeat has run.
func (p *probe) stop(ctx context.Context) LagStats {
	p.cancel()
	<-p.done

	flushed := make(chan struct{})
	if err := p.loop.Dispatch(ctx, func() { close(flushed) }); err == nil {
		select {
		case <-flushed:
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	samples := append([]float64(nil), p.samples...)
	p.mu.Unlock()
	return lagStats(samples)
}

func lagStats(samples []float64) LagStats {
	if len(samples) == 0 {
		return LagStats{}
	}
	sort.Float64s(samples)
	return LagStats{
		Samples: len(samples),
		MeanMs:  stat.Mean(samples, nil),
		P95Ms:   stat.Quantile(0.95, stat.Empirical, samples, nil),
		MaxMs:   samples[len(samples)-1],
	}
}
