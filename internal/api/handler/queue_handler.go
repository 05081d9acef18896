package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apimw "github.com/gigmarket/notify-pipeline/internal/api/middleware"
	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/repository"
)

// QueueHandler exposes the producer contract (enqueue) and the operator
// inspection endpoints over the notification queue.
type QueueHandler struct {
	repo   repository.QueueRepository
	logger *zap.Logger
}

func NewQueueHandler(repo repository.QueueRepository, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{repo: repo, logger: logger}
}

// Enqueue handles POST /api/v1/notifications
//
// The insert is opaque: validation plus persistence, no delivery here.
// If an X-Idempotency-Key header matches an existing row, that row is
// returned with 200 instead of creating a duplicate (201).
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey != "" {
		existing, err := h.repo.GetByIdempotencyKey(r.Context(), idempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("idempotency lookup failed", zap.Error(err))
			mapError(w, err)
			return
		}
		if existing != nil {
			respondJSON(w, http.StatusOK, existing)
			return
		}
	}

	item := buildQueueItem(&req, idempotencyKey, apimw.GetCorrelationID(r.Context()))
	if err := h.repo.Enqueue(r.Context(), item); err != nil {
		// Lost an idempotency race: a concurrent producer inserted the same
		// key between the lookup and this insert. Serve that row instead.
		if errors.Is(err, domain.ErrConflict) && idempotencyKey != "" {
			if existing, getErr := h.repo.GetByIdempotencyKey(r.Context(), idempotencyKey); getErr == nil {
				respondJSON(w, http.StatusOK, existing)
				return
			}
		}
		h.logger.Warn("enqueue failed",
			zap.String("correlation_id", item.CorrelationID),
			zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// GetByID handles GET /api/v1/notifications/{id}
func (h *QueueHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// List handles GET /api/v1/notifications with filtering and pagination.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	items, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// ListAttempts handles GET /api/v1/notifications/{id}/attempts — the full
// audit trail for one queue item, one row per channel attempt per pass.
func (h *QueueHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		mapError(w, err)
		return
	}
	attempts, err := h.repo.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery attempts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": attempts})
}

func buildQueueItem(req *domain.EnqueueRequest, idempotencyKey, correlationID string) *domain.QueueItem {
	now := time.Now().UTC()

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	scheduledFor := now
	if req.ScheduledFor != nil {
		scheduledFor = req.ScheduledFor.UTC()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	item := &domain.QueueItem{
		ID:            uuid.New().String(),
		RecipientID:   req.RecipientID,
		Type:          req.Type,
		Title:         req.Title,
		Body:          req.Body,
		Data:          req.Data,
		Channels:      req.Channels,
		Priority:      priority,
		ScheduledFor:  scheduledFor,
		Status:        domain.StatusPending,
		MaxAttempts:   maxAttempts,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if idempotencyKey != "" {
		item.IdempotencyKey = &idempotencyKey
	}
	return item
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if t := q.Get("type"); t != "" {
		nt := domain.NotificationType(t)
		filter.Type = &nt
	}
	if rec := q.Get("recipient_id"); rec != "" {
		filter.RecipientID = &rec
	}
	return filter
}
