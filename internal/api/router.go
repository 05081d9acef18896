package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/api/handler"
	apimw "github.com/gigmarket/notify-pipeline/internal/api/middleware"
	"github.com/gigmarket/notify-pipeline/internal/directory"
	"github.com/gigmarket/notify-pipeline/internal/repository"
	"github.com/gigmarket/notify-pipeline/internal/worker"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	repo repository.QueueRepository,
	inbox directory.InboxStore,
	w *worker.Worker,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	qh := handler.NewQueueHandler(repo, logger)
	ih := handler.NewInboxHandler(inbox, logger)
	wh := handler.NewWorkerHandler(w, logger)
	mh := handler.NewMetricsHandler(repo)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Producer contract + queue inspection
		r.Post("/notifications", qh.Enqueue)
		r.Get("/notifications", qh.List)
		r.Get("/notifications/{id}", qh.GetByID)
		r.Get("/notifications/{id}/attempts", qh.ListAttempts)

		// In-app inbox surface
		r.Get("/inbox/{recipientID}", ih.List)
		r.Post("/inbox/{id}/read", ih.MarkRead)

		// Worker administration
		r.Get("/worker/status", wh.GetStatus)
		r.Post("/worker/process/{id}", wh.ProcessOne)
		r.Post("/worker/stop", wh.Stop)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
