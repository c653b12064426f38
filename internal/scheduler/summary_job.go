package scheduler

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/metrics"
)

// SummarySource is the part of the executor the summary job reads
type SummarySource interface {
	Running() bool
	GetSummary() metrics.Report
	QueueDepth() int
}

// SummaryJob logs the executor's rolling metrics summary
type SummaryJob struct {
	source SummarySource
	log    zerolog.Logger
}

// NewSummaryJob creates a new summary job
func NewSummaryJob(source SummarySource, log zerolog.Logger) *SummaryJob {
	return &SummaryJob{
		source: source,
		log:    log.With().Str("job", "offload_summary").Logger(),
	}
}

// Name returns the job name
func (j *SummaryJob) Name() string {
	return "offload_summary"
}

// Run logs one line for the overall window and one per operation
func (j *SummaryJob) Run() error {
	if j.source == nil {
		return errors.New("summary job has no executor")
	}
	if !j.source.Running() {
		j.log.Debug().Msg("Executor not running, skipping summary")
		return nil
	}

	report := j.source.GetSummary()
	if report.Overall.Count == 0 {
		j.log.Debug().Int("queue_depth", j.source.QueueDepth()).Msg("No offloaded operations in window")
		return nil
	}

	j.log.Info().
		Int("count", report.Overall.Count).
		Float64("success_rate", report.Overall.SuccessRate).
		Float64("p50_ms", report.Overall.P50Ms).
		Float64("p95_ms", report.Overall.P95Ms).
		Float64("max_ms", report.Overall.MaxMs).
		Int("queue_depth", j.source.QueueDepth()).
		Msg("Offload summary")

	for _, name := range report.OperationNames() {
		s := report.Operations[name]
		j.log.Debug().
			Str("operation", name).
			Int("count", s.Count).
			Int("failures", s.FailureCount).
			Float64("mean_ms", s.MeanMs).
			Float64("p95_ms", s.P95Ms).
			Msg("Operation summary")
	}
	return nil
}
