package auth

import "context"

type contextKey string

const contextKeyUser contextKey = "auth.user_id"

// WithUser stores the authenticated user id in context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUser, userID)
}

// UserIDFromContext extracts the authenticated user id from context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(contextKeyUser).(string); ok {
		return userID
	}
	return ""
}
