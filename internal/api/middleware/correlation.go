package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-ID"

type ctxKey int

const ctxKeyCorrelationID ctxKey = iota

// CorrelationID threads a request-scoped correlation ID through the pipeline:
// taken from the X-Correlation-ID header when the producer supplies one,
// minted otherwise. The ID is stored on the context, echoed on the response,
// and ends up on the queue row and every audit row it produces.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), ctxKeyCorrelationID, id)))
	})
}

// GetCorrelationID returns the request's correlation ID, or "" when the
// middleware did not run.
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}
