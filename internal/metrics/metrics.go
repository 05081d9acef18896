package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/worker"
)

// statusCounter is the slice of the queue store the gauge refresher needs.
type statusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ChannelDelivered *prometheus.CounterVec
	ChannelFailed    *prometheus.CounterVec
	ItemsRetried     prometheus.Counter
	ItemsDeadLetter  prometheus.Counter
	DeliveryLatency  *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_channel_delivered_total",
			Help: "Total number of successful channel deliveries.",
		}, []string{"channel"}),

		ChannelFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_channel_failed_total",
			Help: "Total number of failed channel attempts.",
		}, []string{"channel"}),

		ItemsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_items_retried_total",
			Help: "Total number of queue items returned to pending for retry.",
		}),

		ItemsDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_items_dead_lettered_total",
			Help: "Total number of queue items that exhausted their retries.",
		}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notify_delivery_seconds",
			Help:    "End-to-end item processing latency from claim to outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Current number of queue items per status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.ChannelDelivered,
		m.ChannelFailed,
		m.ItemsRetried,
		m.ItemsDeadLetter,
		m.DeliveryLatency,
		m.QueueDepth,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.Hooks.
// Centralises the prometheus observation calls so the worker stays
// metrics-agnostic.
func (m *Metrics) WorkerHooks() worker.Hooks {
	return worker.Hooks{
		OnDelivered: func(ch domain.Channel, latency time.Duration) {
			m.ChannelDelivered.WithLabelValues(string(ch)).Inc()
			m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
		OnChannelFailed: func(ch domain.Channel) {
			m.ChannelFailed.WithLabelValues(string(ch)).Inc()
		},
		OnRetried:      m.ItemsRetried.Inc,
		OnDeadLettered: m.ItemsDeadLetter.Inc,
	}
}

// RunQueueDepth refreshes the queue-depth gauges from the store until ctx
// is cancelled. Runs as its own goroutine from main.
func (m *Metrics) RunQueueDepth(ctx context.Context, store statusCounter, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := store.CountByStatus(ctx)
			if err != nil {
				logger.Warn("queue depth refresh failed", zap.Error(err))
				continue
			}
			for _, status := range []domain.Status{
				domain.StatusPending, domain.StatusProcessing,
				domain.StatusDelivered, domain.StatusFailed,
			} {
				m.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}
