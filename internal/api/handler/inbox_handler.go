package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/directory"
)

// InboxHandler serves the in-app notification surface.
type InboxHandler struct {
	inbox  directory.InboxStore
	logger *zap.Logger
}

func NewInboxHandler(inbox directory.InboxStore, logger *zap.Logger) *InboxHandler {
	return &InboxHandler{inbox: inbox, logger: logger}
}

// List handles GET /api/v1/inbox/{recipientID}
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}

	records, err := h.inbox.ListForRecipient(r.Context(), recipientID, limit)
	if err != nil {
		h.logger.Error("inbox list failed", zap.String("recipient_id", recipientID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list inbox")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": records})
}

// MarkRead handles POST /api/v1/inbox/{id}/read
func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.inbox.MarkRead(r.Context(), id, time.Now().UTC()); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
