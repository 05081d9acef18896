package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/worker"
)

// WorkerHandler exposes the administrative surface of the worker loop.
type WorkerHandler struct {
	w      *worker.Worker
	logger *zap.Logger
}

func NewWorkerHandler(w *worker.Worker, logger *zap.Logger) *WorkerHandler {
	return &WorkerHandler{w: w, logger: logger}
}

// GetStatus handles GET /api/v1/worker/status
func (h *WorkerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.w.GetStatus())
}

// ProcessOne handles POST /api/v1/worker/process/{id}
//
// Claims and processes exactly one named item iff it is currently pending.
// The response reports whether processing occurred.
func (h *WorkerHandler) ProcessOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	processed, err := h.w.ProcessOne(r.Context(), id)
	if err != nil {
		h.logger.Warn("process-one failed", zap.String("queue_id", id), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"processed": processed,
	})
}

// Stop handles POST /api/v1/worker/stop
//
// Cooperative: in-flight delivery finishes, no new iterations start.
func (h *WorkerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.w.Stop()
	h.logger.Info("worker stop requested via admin endpoint")
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
