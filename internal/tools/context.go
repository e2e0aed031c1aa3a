package tools

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID adds the authenticated user's id to the context. Tools
// that mutate state read it from there rather than trusting arguments.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the authenticated user id from the
// context. Returns "" if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
