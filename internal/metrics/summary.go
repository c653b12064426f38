package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary holds latency and success statistics for one operation (or all of
// them) over the recorder's retained window. Latencies are milliseconds.
type Summary struct {
	Operation    string    `json:"operation,omitempty"`
	Count        int       `json:"count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	SuccessRate  float64   `json:"success_rate"`
	MeanMs       float64   `json:"mean_ms"`
	P50Ms        float64   `json:"p50_ms"`
	P95Ms        float64   `json:"p95_ms"`
	P99Ms        float64   `json:"p99_ms"`
	MaxMs        float64   `json:"max_ms"`
	WindowStart  time.Time `json:"window_start,omitempty"`
	WindowEnd    time.Time `json:"window_end,omitempty"`
}

// Report is the overall summary plus one summary per operation.
type Report struct {
	Overall    Summary            `json:"overall"`
	Operations map[string]Summary `json:"operations"`
	// Window is the ring capacity the statistics were computed over.
	Window int `json:"window"`
	// WindowBased is always true; the numbers are not all-time totals.
	WindowBased bool `json:"window_based"`
}

// Summarize computes a Summary over metrics. Percentiles use the empirical
// (nearest-rank) estimator.
func Summarize(operation string, metrics []OperationMetric) Summary {
	s := Summary{Operation: operation, Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}

	durations := make([]float64, len(metrics))
	s.WindowStart = metrics[0].CompletedAt
	s.WindowEnd = metrics[0].CompletedAt
	for i, m := range metrics {
		durations[i] = m.DurationMs()
		if m.Success {
			s.SuccessCount++
		}
		if m.CompletedAt.Before(s.WindowStart) {
			s.WindowStart = m.CompletedAt
		}
		if m.CompletedAt.After(s.WindowEnd) {
			s.WindowEnd = m.CompletedAt
		}
	}
	s.FailureCount = s.Count - s.SuccessCount
	s.SuccessRate = float64(s.SuccessCount) / float64(s.Count)

	sort.Float64s(durations)
	s.MeanMs = stat.Mean(durations, nil)
	s.P50Ms = stat.Quantile(0.50, stat.Empirical, durations, nil)
	s.P95Ms = stat.Quantile(0.95, stat.Empirical, durations, nil)
	s.P99Ms = stat.Quantile(0.99, stat.Empirical, durations, nil)
	s.MaxMs = durations[len(durations)-1]

	return s
}

// BuildReport groups metrics by operation and summarizes each group.
func BuildReport(metrics []OperationMetric, window int) Report {
	grouped := make(map[string][]OperationMetric)
	for _, m := range metrics {
		grouped[m.Operation] = append(grouped[m.Operation], m)
	}

	operations := make(map[string]Summary, len(grouped))
	for op, ms := range grouped {
		operations[op] = Summarize(op, ms)
	}

	return Report{
		Overall:     Summarize("", metrics),
		Operations:  operations,
		Window:      window,
		WindowBased: true,
	}
}

// OperationNames returns the report's operation names sorted.
func (r Report) OperationNames() []string {
	names := make([]string, 0, len(r.Operations))
	for name := range r.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
