package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// TraceHeader carries the correlation id on requests and responses.
	TraceHeader = "X-Trace-ID"
	// requestIDHeader is accepted from proxies that only set X-Request-ID.
	requestIDHeader = "X-Request-ID"

	maxTraceIDLen = 64
)

// TraceMiddleware adopts the caller's trace id when it is a short token and
// mints a UUID otherwise. The id is echoed in the response, stored in the
// context for logs and problem bodies, and written back onto the request so
// idempotent replays see the same value.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set(TraceHeader, traceID)
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func incomingTraceID(r *http.Request) string {
	for _, h := range []string{TraceHeader, requestIDHeader} {
		if id := r.Header.Get(h); validTraceID(id) {
			return id
		}
	}
	return ""
}

// validTraceID accepts 1..64 characters from [A-Za-z0-9._:-] so ids are safe
// to log verbatim.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
