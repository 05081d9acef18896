package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorrelationID(t *testing.T) {
	t.Run("echoes a supplied id", func(t *testing.T) {
		var seen string
		h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetCorrelationID(r.Context())
		}))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "corr-42")
		h.ServeHTTP(rec, req)

		if seen != "corr-42" {
			t.Fatalf("context id = %q, want corr-42", seen)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != "corr-42" {
			t.Fatalf("response header = %q, want corr-42", got)
		}
	})

	t.Run("mints an id when absent", func(t *testing.T) {
		var seen string
		h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetCorrelationID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Fatal("expected a generated correlation id")
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != seen {
			t.Fatalf("response header %q does not match context id %q", got, seen)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	h := CorrelationID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout")) //nolint:errcheck
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("X-Correlation-ID", "corr-7")
	h.ServeHTTP(rec, req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("logged status = %v, want 418", fields["status"])
	}
	if fields["bytes"] != int64(len("short and stout")) {
		t.Fatalf("logged bytes = %v", fields["bytes"])
	}
	if fields["correlation_id"] != "corr-7" {
		t.Fatalf("logged correlation_id = %v, want corr-7", fields["correlation_id"])
	}
	if fields["path"] != "/api/v1/notifications" {
		t.Fatalf("logged path = %v", fields["path"])
	}
}
