package executor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/queue"
	"github.com/aristath/sentinel-offload/internal/work"
)

// Stop modes for queued fire-and-forget work.
const (
	DrainThenStop  = queue.DrainThenStop
	DiscardAndStop = queue.DiscardAndStop
)

// Defaults applied by DefaultPoolConfiguration.
const (
	DefaultQueueCapacity = 1000
	DefaultQueueWorkers  = 2
)

// PoolConfiguration sizes the executor. It is fixed once the executor starts.
type PoolConfiguration struct {
	// ThreadWorkers is the number of goroutines running THREAD work.
	ThreadWorkers int
	// ProcessWorkers is the number of worker processes; 0 disables PROCESS work.
	ProcessWorkers int
	// QueueCapacity bounds the fire-and-forget queue.
	QueueCapacity int
	// QueueWorkers is the number of goroutines draining the queue.
	QueueWorkers int
	// MetricsRetention is the number of outcome records kept.
	MetricsRetention int
	// StopMode decides what happens to queued items on Stop.
	StopMode queue.CloseMode
	// PollInterval is how long an idle drain worker waits before re-checking for shutdown.
	PollInterval time.Duration
	// ProcessCommand overrides how worker processes are started.
	ProcessCommand procpool.Command
}

// DefaultPoolConfiguration returns a configuration sized for the current machine
// with the process pool disabled.
func DefaultPoolConfiguration() PoolConfiguration {
	return PoolConfiguration{
		ThreadWorkers:    runtime.NumCPU() * 2,
		ProcessWorkers:   0,
		QueueCapacity:    DefaultQueueCapacity,
		QueueWorkers:     DefaultQueueWorkers,
		MetricsRetention: metrics.DefaultRetention,
		StopMode:         DrainThenStop,
		PollInterval:     queue.DefaultPollInterval,
	}
}

// Validate rejects out-of-range values with *work.ConfigurationError.
func (c PoolConfiguration) Validate() error {
	invalid := func(format string, args ...any) error {
		return &work.ConfigurationError{Reason: work.ErrInvalidConfig, Detail: fmt.Sprintf(format, args...)}
	}

	if c.ThreadWorkers < 1 {
		return invalid("thread workers must be positive, got %d", c.ThreadWorkers)
	}
	if c.ProcessWorkers < 0 {
		return invalid("process workers must not be negative, got %d", c.ProcessWorkers)
	}
	if c.QueueCapacity < 1 {
		return invalid("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.QueueWorkers < 1 {
		return invalid("queue workers must be positive, got %d", c.QueueWorkers)
	}
	if c.MetricsRetention < 1 {
		return invalid("metrics retention must be positive, got %d", c.MetricsRetention)
	}
	if c.StopMode != DrainThenStop && c.StopMode != DiscardAndStop {
		return invalid("unknown stop mode %d", c.StopMode)
	}
	if c.PollInterval <= 0 {
		return invalid("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}
