package handler

import (
	"net/http"

	"github.com/gigmarket/notify-pipeline/internal/repository"
)

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	repo repository.QueueRepository
}

func NewMetricsHandler(repo repository.QueueRepository) *MetricsHandler {
	return &MetricsHandler{repo: repo}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountByStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	total := 0
	depth := make(map[string]int, len(counts))
	for status, count := range counts {
		depth[string(status)] = count
		total += count
	}
	depth["total"] = total

	respondJSON(w, http.StatusOK, map[string]any{"queue_depth": depth})
}
