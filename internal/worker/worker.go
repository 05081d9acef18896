package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/delivery"
	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/repository"
)

// Deliverer is the slice of the orchestrator the worker needs.
// Tests substitute a stub.
type Deliverer interface {
	Deliver(ctx context.Context, item *domain.QueueItem) delivery.Outcome
}

// Config holds the worker loop tuning knobs.
type Config struct {
	BatchSize     int           `json:"batch_size"`
	PollInterval  time.Duration `json:"poll_interval"`
	BusyDelay     time.Duration `json:"busy_delay"`
	ErrorBackoff  time.Duration `json:"error_backoff"`
	MaxIterations int           `json:"max_iterations"` // 0 = run until stopped
}

// Hooks carries the metric callback functions injected by main.
// Using a struct keeps the worker metrics-agnostic.
type Hooks struct {
	OnDelivered     func(channel domain.Channel, latency time.Duration)
	OnChannelFailed func(channel domain.Channel)
	OnRetried       func()
	OnDeadLettered  func()
}

// Status is the administrative snapshot exposed by the hosting process.
// Counters are process-local observability state; durable counts live in
// the delivery_attempts audit log.
type Status struct {
	IsRunning      bool   `json:"is_running"`
	ProcessedCount int64  `json:"processed_count"`
	FailedCount    int64  `json:"failed_count"`
	Config         Config `json:"config"`
}

// Worker is the single background polling loop of one process: it claims a
// bounded batch of due queue items, hands each to the orchestrator strictly
// sequentially (one in-flight provider call per worker), and applies the
// retry/dead-letter transition. Multiple worker processes scale horizontally
// without double delivery — the atomic claim alone guarantees that.
type Worker struct {
	store  repository.QueueRepository
	orch   Deliverer
	cfg    Config
	hooks  Hooks
	logger *zap.Logger

	running   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New constructs a worker. Hook fields are optional (nil = no-op).
func New(
	store repository.QueueRepository,
	orch Deliverer,
	cfg Config,
	logger *zap.Logger,
	hooks Hooks,
) *Worker {
	if hooks.OnDelivered == nil {
		hooks.OnDelivered = func(domain.Channel, time.Duration) {}
	}
	if hooks.OnChannelFailed == nil {
		hooks.OnChannelFailed = func(domain.Channel) {}
	}
	if hooks.OnRetried == nil {
		hooks.OnRetried = func() {}
	}
	if hooks.OnDeadLettered == nil {
		hooks.OnDeadLettered = func() {}
	}
	return &Worker{
		store:  store,
		orch:   orch,
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the polling loop in its own goroutine.
// Use Stop plus Wait for a graceful shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	w.logger.Info("worker started",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	iterations := 0
	for {
		if w.stopRequested() || ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}
		if w.cfg.MaxIterations > 0 && iterations >= w.cfg.MaxIterations {
			w.logger.Info("worker reached max iterations", zap.Int("iterations", iterations))
			return
		}
		iterations++

		count, err := w.ProcessBatch(ctx)
		switch {
		case err != nil:
			// An iteration-level failure must never crash the loop:
			// log and back off at double the usual error delay.
			w.logger.Error("batch iteration failed", zap.Error(err))
			w.sleep(ctx, 2*w.cfg.ErrorBackoff)
		case count == 0:
			w.sleep(ctx, w.cfg.PollInterval)
		default:
			w.sleep(ctx, w.cfg.BusyDelay)
		}
	}
}

// ProcessBatch atomically claims up to BatchSize due items and delivers them
// sequentially. Returns the number of items processed. If a stop arrives
// mid-batch, the remaining claimed items stay in processing — there is no
// release sweep; see the package docs on abandoned rows.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	items, err := w.store.ClaimDue(ctx, w.cfg.BatchSize, now)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	count := 0
	for _, item := range items {
		if w.stopRequested() {
			w.logger.Warn("stop requested mid-batch",
				zap.Int("processed", count),
				zap.Int("abandoned_in_processing", len(items)-count))
			break
		}
		w.processItem(ctx, item)
		count++
	}
	return count, nil
}

// ProcessOne is the administrative entry point: it claims and processes
// exactly one named item iff it is currently pending. Returns whether
// processing occurred. A stopped worker refuses the request.
func (w *Worker) ProcessOne(ctx context.Context, id string) (bool, error) {
	if w.stopRequested() {
		return false, domain.ErrWorkerStopped
	}
	item, err := w.store.ClaimOne(ctx, id, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotPending) {
			return false, nil
		}
		return false, err
	}
	w.processItem(ctx, item)
	return true, nil
}

// Stop is a cooperative termination request: it blocks new iterations and
// new items from starting but never preempts an in-flight delivery.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Wait blocks until the loop goroutine has exited or ctx expires.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStatus returns the administrative snapshot.
func (w *Worker) GetStatus() Status {
	return Status{
		IsRunning:      w.running.Load(),
		ProcessedCount: w.processed.Load(),
		FailedCount:    w.failed.Load(),
		Config:         w.cfg,
	}
}

// ---- internals ----

func (w *Worker) processItem(ctx context.Context, item *domain.QueueItem) {
	start := time.Now()
	log := w.logger.With(
		zap.String("queue_id", item.ID),
		zap.String("type", string(item.Type)),
		zap.Int("attempt", item.Attempts),
	)

	outcome := w.deliverSafely(ctx, item)
	latency := time.Since(start)

	for ch, result := range outcome.PerChannel {
		if result.Success {
			w.hooks.OnDelivered(ch, latency)
		} else {
			w.hooks.OnChannelFailed(ch)
		}
	}

	if outcome.OverallSuccess {
		now := time.Now().UTC()
		if err := w.store.MarkDelivered(ctx, item.ID, now, outcome.PerChannel); err != nil {
			log.Error("failed to mark delivered", zap.Error(err))
			return
		}
		w.processed.Add(1)
		log.Info("item delivered", zap.Duration("latency", latency))
		return
	}

	w.handleFailure(ctx, item, outcome, log)
}

// deliverSafely converts any panic during delivery into an all-failed
// outcome so one bad item can never abort the batch or the loop.
func (w *Worker) deliverSafely(ctx context.Context, item *domain.QueueItem) (outcome delivery.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("delivery panicked",
				zap.String("queue_id", item.ID),
				zap.Any("panic", r))
			outcome = delivery.Outcome{
				PerChannel: map[domain.Channel]domain.DeliveryResult{},
			}
			for _, ch := range item.Channels {
				outcome.PerChannel[ch] = domain.DeliveryResult{
					ErrorCode:    domain.ErrCodeSendFailed,
					ErrorMessage: domain.TruncateError(fmt.Sprintf("delivery panic: %v", r)),
				}
			}
		}
	}()
	return w.orch.Deliver(ctx, item)
}

// handleFailure applies the retry or dead-letter transition. Attempts was
// already incremented by the claim, so it counts the pass that just failed.
func (w *Worker) handleFailure(ctx context.Context, item *domain.QueueItem, outcome delivery.Outcome, log *zap.Logger) {
	errMsg := summarizeFailure(outcome)
	now := time.Now().UTC()

	if item.Attempts >= item.MaxAttempts {
		// Dead-letter: terminal. This log line is the alerting hook point.
		if err := w.store.MarkFailed(ctx, item.ID, now, errMsg, outcome.PerChannel); err != nil {
			log.Error("failed to dead-letter item", zap.Error(err))
			return
		}
		w.failed.Add(1)
		w.hooks.OnDeadLettered()
		log.Error("item dead-lettered after exhausting retries",
			zap.Int("attempts", item.Attempts),
			zap.String("last_error", errMsg))
		return
	}

	next := now.Add(domain.RetryDelay(item.Attempts))
	if err := w.store.ScheduleRetry(ctx, item.ID, next, errMsg, outcome.PerChannel); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
		return
	}
	w.hooks.OnRetried()
	log.Warn("item scheduled for retry",
		zap.Time("next_attempt", next),
		zap.String("error", errMsg))
}

// summarizeFailure flattens per-channel errors into one persisted line,
// ordered by channel name for stable output.
func summarizeFailure(outcome delivery.Outcome) string {
	parts := make([]string, 0, len(outcome.PerChannel))
	for ch, result := range outcome.PerChannel {
		if result.Success {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", ch, result.ErrorCode))
	}
	sort.Strings(parts)
	return domain.TruncateError(strings.Join(parts, "; "))
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d, returning early on stop or context cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopCh:
	case <-ctx.Done():
	}
}
