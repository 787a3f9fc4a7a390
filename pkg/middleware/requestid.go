package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey string

const CtxKeyRequestID ctxKey = "reqid"

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-Id"

// RequestID reuses the caller's X-Request-Id or mints a UUID.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// WithRequestID stores id unless ctx already carries one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" || RequestIDFrom(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, CtxKeyRequestID, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyRequestID).(string)
	return id
}
