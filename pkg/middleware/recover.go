package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"subgate/pkg/problems"
)

// Recover turns a handler panic into a 500 problem response. The billing
// provider redelivers on any 5xx.
func Recover(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorw("panic", "err", rec, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "stack", string(debug.Stack()))
					problems.Write(w, problems.New(http.StatusInternalServerError, "internal", ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
