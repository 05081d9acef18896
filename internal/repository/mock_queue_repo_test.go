package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/repository"
)

func pendingItem(id string, p domain.Priority, scheduledFor time.Time) *domain.QueueItem {
	return &domain.QueueItem{
		ID:           id,
		RecipientID:  "user-1",
		Type:         domain.TypeMessageReceived,
		Title:        "hi",
		Channels:     []domain.Channel{domain.ChannelInApp},
		Priority:     p,
		ScheduledFor: scheduledFor,
		Status:       domain.StatusPending,
		MaxAttempts:  domain.DefaultMaxAttempts,
	}
}

func TestMockQueueRepository_ClaimDueOrdering(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	// A later-enqueued critical item must be claimed before an older low one.
	_ = repo.Enqueue(ctx, pendingItem("low", domain.PriorityLow, now.Add(-2*time.Hour)))
	_ = repo.Enqueue(ctx, pendingItem("critical", domain.PriorityCritical, now.Add(-time.Minute)))
	_ = repo.Enqueue(ctx, pendingItem("future", domain.PriorityCritical, now.Add(time.Hour)))

	claimed, err := repo.ClaimDue(ctx, 10, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 due items, got %d", len(claimed))
	}
	if claimed[0].ID != "critical" || claimed[1].ID != "low" {
		t.Fatalf("wrong claim order: %s, %s", claimed[0].ID, claimed[1].ID)
	}
	for _, item := range claimed {
		if item.Status != domain.StatusProcessing {
			t.Fatalf("claimed item %s not processing: %s", item.ID, item.Status)
		}
		if item.Attempts != 1 {
			t.Fatalf("claimed item %s attempts = %d, want 1", item.ID, item.Attempts)
		}
		if item.LastAttemptAt == nil {
			t.Fatalf("claimed item %s missing last_attempt_at", item.ID)
		}
	}
}

// TestMockQueueRepository_ConcurrentClaimOne verifies the at-most-one-claimer
// invariant: many racing claims on the same pending row yield exactly one
// winner; losers see ErrNotPending and affect nothing.
func TestMockQueueRepository_ConcurrentClaimOne(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = repo.Enqueue(ctx, pendingItem("contested", domain.PriorityNormal, now.Add(-time.Minute)))

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan string, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if item, err := repo.ClaimOne(ctx, "contested", now); err == nil {
				wins <- item.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", count)
	}

	got, _ := repo.GetByID(ctx, "contested")
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (losers must not increment)", got.Attempts)
	}
}

func TestMockQueueRepository_ClaimOneGuards(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("missing row", func(t *testing.T) {
		if _, err := repo.ClaimOne(ctx, "nope", now); err != domain.ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("non-pending row", func(t *testing.T) {
		_ = repo.Enqueue(ctx, pendingItem("done", domain.PriorityNormal, now))
		_ = repo.MarkDelivered(ctx, "done", now, nil)
		if _, err := repo.ClaimOne(ctx, "done", now); err != domain.ErrNotPending {
			t.Fatalf("expected ErrNotPending, got %v", err)
		}
	})
}

func TestMockQueueRepository_IdempotencyConflict(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	key := "producer-key-1"
	first := pendingItem("a", domain.PriorityNormal, now)
	first.IdempotencyKey = &key
	second := pendingItem("b", domain.PriorityNormal, now)
	second.IdempotencyKey = &key

	if err := repo.Enqueue(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := repo.Enqueue(ctx, second); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "a" {
		t.Fatalf("expected original row, got %s", got.ID)
	}
}

func TestMockQueueRepository_FailedNeverReclaimed(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = repo.Enqueue(ctx, pendingItem("dead", domain.PriorityHigh, now.Add(-time.Minute)))
	if _, err := repo.ClaimOne(ctx, "dead", now); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkFailed(ctx, "dead", now, "push: SEND_FAILED", nil); err != nil {
		t.Fatal(err)
	}

	claimed, err := repo.ClaimDue(ctx, 10, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("failed item must never be re-claimed, got %d rows", len(claimed))
	}
}
