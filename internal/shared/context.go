package shared

import "context"

type userContextKey struct{}

// ContextWithUserID stores the authenticated caller in context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated caller from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userContextKey{}).(string)
	return id, ok && id != ""
}
