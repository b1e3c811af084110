package core

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying an explicit user attribution. User
// identity is always threaded through calls explicitly; this context value is
// only the request-scoped fallback used when the thread store has no owner
// recorded for a thread.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the fallback user attribution, if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey{}).(string)
	return v, ok && v != ""
}
