package authkit

import (
	"context"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// WithRequestID makes every call issued with ctx carry id in X-Request-Id
// instead of a generated one. Use it to correlate client and server logs
// for one user action spanning several calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id attached with WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id, id != ""
}

func requestIDFor(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
