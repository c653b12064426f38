package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/work"
)

// FeaturesFunc is the process function name of the feature payload.
const FeaturesFunc = "benchmark.features"

func init() {
	procpool.Register(FeaturesFunc, func(ctx context.Context, args FeatureArgs) (Features, error) {
		return ComputeFeatures(args)
	})
}

// Payload is one unit of synthetic load.
type Payload struct {
	Name string
	Kind work.Kind

	// Fn runs the payload in-process. The baseline always uses it.
	Fn work.Func

	// ProcessFunc and Args describe the PROCESS variant.
	ProcessFunc string
	Args        any
}

func (p Payload) item(operation string) (*work.WorkItem, error) {
	if p.Kind == work.Process {
		return work.NewProcessItem(operation, p.ProcessFunc, p.Args)
	}
	return work.NewWorkItem(operation, p.Fn)
}

// SleepPayload simulates blocking IO such as a broker API call.
func SleepPayload(d time.Duration) Payload {
	return Payload{
		Name: fmt.Sprintf("sleep_%s", d),
		Kind: work.Thread,
		Fn: func(ctx context.Context) (any, error) {
			time.Sleep(d)
			return nil, nil
		},
	}
}

// FeatureArgs sizes one feature computation.
type FeatureArgs struct {
	Bars   int
	Rounds int
	Seed   int64
}

// Features are the indicator values at the last bar.
type Features struct {
	RSI     float64
	EMA     float64
	BBUpper float64
	BBLower float64
}

// FeaturePayload computes technical indicators over a synthetic price series
// on a worker goroutine.
func FeaturePayload(bars, rounds int) Payload {
	args := FeatureArgs{Bars: bars, Rounds: rounds, Seed: 42}
	return Payload{
		Name: fmt.Sprintf("features_%dx%d", bars, rounds),
		Kind: work.Thread,
		Fn: func(ctx context.Context) (any, error) {
			return ComputeFeatures(args)
		},
		ProcessFunc: FeaturesFunc,
		Args:        args,
	}
}

// FeatureProcessPayload is FeaturePayload run in a worker process.
func FeatureProcessPayload(bars, rounds int) Payload {
	p := FeaturePayload(bars, rounds)
	p.Name += "_process"
	p.Kind = work.Process
	return p
}

const (
	rsiPeriod   = 14
	emaPeriod   = 20
	bandsPeriod = 20
	bandsDev    = 2.0
)

// ComputeFeatures runs RSI, EMA and Bollinger Bands over a seeded random walk.
func ComputeFeatures(args FeatureArgs) (Features, error) {
	if args.Bars <= bandsPeriod {
		return Features{}, fmt.Errorf("need more than %d bars, got %d", bandsPeriod, args.Bars)
	}
	if args.Rounds < 1 {
		args.Rounds = 1
	}

	closes := randomWalk(args.Bars, args.Seed)

	var f Features
	for i := 0; i < args.Rounds; i++ {
		rsi := talib.Rsi(closes, rsiPeriod)
		ema := talib.Ema(closes, emaPeriod)
		upper, _, lower := talib.BBands(closes, bandsPeriod, bandsDev, bandsDev, 0)

		last := len(closes) - 1
		f = Features{RSI: rsi[last], EMA: ema[last], BBUpper: upper[last], BBLower: lower[last]}
	}
	return f, nil
}

func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 1 + (rng.Float64()-0.5)*0.02
		closes[i] = price
	}
	return closes
}
