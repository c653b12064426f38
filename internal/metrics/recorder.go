// Package metrics records per-operation outcomes of offloaded work in a
// bounded ring buffer and derives latency/success summaries from it.
//
// The recorder is a window, not a time-series store: summaries describe only
// the most recent Capacity() outcomes. Anything older has been evicted.
package metrics

import (
	"sync"
	"time"

	"github.com/aristath/sentinel-offload/internal/work"
)

// DefaultRetention is the ring size used when a non-positive capacity is given.
const DefaultRetention = 10000

// Source identifies which executor path produced a metric.
type Source string

const (
	SourceBlocking Source = "blocking"
	SourceBatch    Source = "batch"
	SourceQueue    Source = "queue"
)

// OperationMetric is the outcome of one completed work item.
type OperationMetric struct {
	Operation   string        `json:"operation"`
	ItemID      string        `json:"item_id"`
	Duration    time.Duration `json:"-"`
	Success     bool          `json:"success"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Kind        work.Kind     `json:"-"`
	Source      Source        `json:"source"`
	CompletedAt time.Time     `json:"completed_at"`
}

// DurationMs returns the duration in fractional milliseconds.
func (m OperationMetric) DurationMs() float64 {
	return float64(m.Duration) / float64(time.Millisecond)
}

// Observer is notified after every recorded metric, outside the ring lock.
type Observer interface {
	Observe(m OperationMetric)
}

// Recorder is an append-only ring buffer of OperationMetric.
// Record, Snapshot, Summary and Clear are safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	buf       []OperationMetric
	next      int // write position
	size      int // number of valid entries
	total     uint64
	observers []Observer
}

// NewRecorder creates a recorder that retains the capacity most recent metrics.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	return &Recorder{
		buf: make([]OperationMetric, capacity),
	}
}

// AddObserver registers o. Observers must not call back into the recorder.
func (r *Recorder) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Record appends m, evicting the oldest entry when the ring is full. O(1).
func (r *Recorder) Record(m OperationMetric) {
	if m.CompletedAt.IsZero() {
		m.CompletedAt = time.Now()
	}

	r.mu.Lock()
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.total++
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.Observe(m)
	}
}

// Snapshot returns the retained metrics oldest first. lastN > 0 limits the
// result to the lastN most recent entries.
func (r *Recorder) Snapshot(lastN int) []OperationMetric {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if lastN > 0 && lastN < n {
		n = lastN
	}

	out := make([]OperationMetric, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Clear drops every retained metric. Safe to call while Record is in use;
// the all-time counter returned by Total is left untouched.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buf)
	r.next = 0
	r.size = 0
}

// Len returns the number of retained metrics.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the ring size.
func (r *Recorder) Capacity() int {
	return len(r.buf)
}

// Total returns the number of metrics ever recorded, including evicted ones.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Summary aggregates the retained window. An empty operation summarizes all
// operations.
func (r *Recorder) Summary(operation string) Summary {
	snapshot := r.Snapshot(0)
	if operation == "" {
		return Summarize("", snapshot)
	}

	filtered := make([]OperationMetric, 0, len(snapshot))
	for _, m := range snapshot {
		if m.Operation == operation {
			filtered = append(filtered, m)
		}
	}
	return Summarize(operation, filtered)
}

// Report aggregates the retained window overall and per operation.
func (r *Recorder) Report() Report {
	snapshot := r.Snapshot(0)
	return BuildReport(snapshot, r.Capacity())
}
