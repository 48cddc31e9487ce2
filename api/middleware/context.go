package middleware

import "context"

type contextKey string

const ctxActor contextKey = "actor"

// ActorAdmin marks requests authenticated with the admin token.
const ActorAdmin = "admin"

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActor).(string); ok {
		return v
	}
	return ""
}

// WithActor injects the actor label into the context.
func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}
