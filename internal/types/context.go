package types

import "context"

// Context Keys
type contextKey string

const (
	sessionKey   contextKey = "session"
	requestIDKey contextKey = "request_id"
)

// WithSession stores the authenticated session claims in the context.
func WithSession(ctx context.Context, claims SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, claims)
}

// GetSession retrieves the session claims from the context.
func GetSession(ctx context.Context) (SessionClaims, bool) {
	claims, ok := ctx.Value(sessionKey).(SessionClaims)
	return claims, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
