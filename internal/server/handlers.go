package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports liveness plus a small host snapshot.
// It answers 503 while the executor is not running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := s.getSystemStats()

	state := s.exec.State()
	status, code := "healthy", http.StatusOK
	if !s.exec.Running() {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":         status,
		"service":        "sentinel-offload",
		"executor_state": state.String(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
	}
	if stats := s.exec.Stats(); len(stats.Pool.ProcessPIDs) > 0 {
		response["process_pids"] = stats.Pool.ProcessPIDs
	}

	s.writeJSON(w, code, response)
}

// handleStats returns executor configuration, counters and pool occupancy
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.exec.Stats())
}

// handleMetrics returns raw retained metrics, optionally only the last N
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	lastN := 0
	if raw := r.URL.Query().Get("last_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "last_n must be a non-negative integer")
			return
		}
		lastN = n
	}

	ms := s.exec.GetMetrics(lastN)
	out := make([]metricResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, metricResponse{
			Operation:   m.Operation,
			ItemID:      m.ItemID,
			Kind:        m.Kind.String(),
			Source:      string(m.Source),
			Success:     m.Success,
			ErrorKind:   m.ErrorKind,
			DurationMs:  m.DurationMs(),
			CompletedAt: m.CompletedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(out),
		"metrics": out,
	})
}

// handleSummary returns the overall and per-operation summaries
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.exec.GetSummary())
}

// handleClearMetrics empties the metrics window
func (s *Server) handleClearMetrics(w http.ResponseWriter, r *http.Request) {
	s.exec.ClearMetrics()
	s.log.Info().Msg("Executor metrics cleared")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared"})
}

type metricResponse struct {
	Operation   string    `json:"operation"`
	ItemID      string    `json:"item_id"`
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Success     bool      `json:"success"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	DurationMs  float64   `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// getSystemStats calculates CPU and RAM usage percentages over a short sample
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
