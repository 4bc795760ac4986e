package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the verified user id of the current caller. Identity
// verification happens upstream; this package only transports the result.
func ContextWithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, userID)
}

// ActorFromContext extracts the caller's user id, or "" when absent.
func ActorFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(actorContextKey{}).(string)
	return userID
}
