package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const traceKey ctxKey = iota

// Trace tags every request with a delivery trace ID so one OTP request can
// be followed from the handler through executor attempts and provider calls.
// Callers may bring their own ID via X-Correlation-ID (or X-Request-ID, for
// gateways that use that convention); otherwise a UUID is generated. The
// resolved ID is echoed on the response so the caller can quote it back.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := context.WithValue(r.Context(), traceKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID returns the delivery trace ID for the request, or the empty
// string when the middleware is not installed.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}
