// Package requestctx carries per-request identity through context.
package requestctx

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user identifier.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user identifier, or an empty
// string when the request carries none.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
