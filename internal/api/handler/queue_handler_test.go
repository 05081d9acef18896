package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/api/handler"
	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/repository"
)

func enqueueBody(t *testing.T, req domain.EnqueueRequest) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(b)
}

func validRequest() domain.EnqueueRequest {
	return domain.EnqueueRequest{
		RecipientID: "user-1",
		Type:        domain.TypeMessageReceived,
		Title:       "New message",
		Body:        "You have a new message.",
		Channels:    []domain.Channel{domain.ChannelInApp},
	}
}

func TestQueueHandler_Enqueue(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	h := handler.NewQueueHandler(repo, zap.NewNop())

	t.Run("creates pending item", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", enqueueBody(t, validRequest()))
		h.Enqueue(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		var got domain.QueueItem
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusPending || got.MaxAttempts != domain.DefaultMaxAttempts {
			t.Fatalf("unexpected defaults: %+v", got)
		}
	})

	t.Run("repeated idempotency key returns existing row", func(t *testing.T) {
		first := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", enqueueBody(t, validRequest()))
		req.Header.Set("X-Idempotency-Key", "producer-1")
		h.Enqueue(first, req)
		if first.Code != http.StatusCreated {
			t.Fatalf("first enqueue status = %d, want 201", first.Code)
		}
		var created domain.QueueItem
		if err := json.NewDecoder(first.Body).Decode(&created); err != nil {
			t.Fatal(err)
		}

		second := httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications", enqueueBody(t, validRequest()))
		req.Header.Set("X-Idempotency-Key", "producer-1")
		h.Enqueue(second, req)
		if second.Code != http.StatusOK {
			t.Fatalf("duplicate enqueue status = %d, want 200", second.Code)
		}
		var got domain.QueueItem
		if err := json.NewDecoder(second.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.ID != created.ID {
			t.Fatalf("duplicate returned %s, want original %s", got.ID, created.ID)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", bytes.NewReader([]byte("{")))
		h.Enqueue(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		bad := validRequest()
		bad.Type = "carrier_pigeon"
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", enqueueBody(t, bad))
		h.Enqueue(rec, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
	})
}

// racingRepo simulates a concurrent producer landing the same idempotency key
// between the handler's lookup and its insert: the first lookup misses, the
// competing row is inserted, and the handler's own insert conflicts.
type racingRepo struct {
	*repository.MockQueueRepository
	key   string
	raced bool
}

func (r *racingRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.QueueItem, error) {
	if !r.raced && key == r.key {
		r.raced = true
		k := r.key
		_ = r.MockQueueRepository.Enqueue(ctx, &domain.QueueItem{
			ID:             "competitor",
			RecipientID:    "user-1",
			Type:           domain.TypeMessageReceived,
			Title:          "New message",
			Channels:       []domain.Channel{domain.ChannelInApp},
			Priority:       domain.PriorityNormal,
			Status:         domain.StatusPending,
			MaxAttempts:    domain.DefaultMaxAttempts,
			IdempotencyKey: &k,
			ScheduledFor:   time.Now().UTC(),
		})
		return nil, domain.ErrNotFound
	}
	return r.MockQueueRepository.GetByIdempotencyKey(ctx, key)
}

// A lost insert race on the idempotency key must still serve the winner's
// row with 200, never surface a conflict to the producer.
func TestQueueHandler_EnqueueIdempotencyRace(t *testing.T) {
	repo := &racingRepo{
		MockQueueRepository: repository.NewMockQueueRepository(),
		key:                 "producer-race",
	}
	h := handler.NewQueueHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", enqueueBody(t, validRequest()))
	req.Header.Set("X-Idempotency-Key", "producer-race")
	h.Enqueue(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got domain.QueueItem
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "competitor" {
		t.Fatalf("expected the winner's row, got %s", got.ID)
	}
}

func TestQueueHandler_GetByID(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	h := handler.NewQueueHandler(repo, zap.NewNop())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "missing")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/missing", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	h.GetByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Fatalf("expected an error body, got %v", body)
	}
}
