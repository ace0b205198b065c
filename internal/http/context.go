package http

import "context"

type contextKey string

const (
	userIDContextKey       contextKey = "user_id"
	laboratoryIDContextKey contextKey = "laboratory_id"
	sessionIDContextKey    contextKey = "session_id"
)

// ContextWithUserID returns a derived context carrying the caller's user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the caller's user id if RequireUser resolved one.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithLaboratoryID injects the laboratory identifier resolved from the request path.
func ContextWithLaboratoryID(ctx context.Context, labID string) context.Context {
	return context.WithValue(ctx, laboratoryIDContextKey, labID)
}

// LaboratoryIDFromContext extracts a laboratory identifier previously associated with the context.
func LaboratoryIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(laboratoryIDContextKey).(string)
	return id, ok
}

// ContextWithSessionID injects the session identifier resolved from the request path.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// SessionIDFromContext extracts a session identifier previously associated with the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok
}
