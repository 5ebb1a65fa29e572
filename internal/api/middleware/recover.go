package middleware

import (
	"net/http"

	"github.com/ayo6706/personal-ledger/internal/api/problem"
	"github.com/ayo6706/personal-ledger/internal/observability"
	"go.uber.org/zap"
)

// RecoverMiddleware turns a handler panic into a 500 problem response. The
// panic is logged with the route and trace id and counted per route;
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				route := routePattern(r)
				observability.IncrementPanic(route)
				logger.Error("handler panicked",
					zap.Any("panic", rec),
					zap.String("route", route),
					zap.String("method", r.Method),
					zap.String("trace_id", TraceIDFromContext(r.Context())),
					zap.Stack("stack"),
				)

				problem.Write(w, r,
					http.StatusInternalServerError,
					problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError),
					"the request could not be completed",
				)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
