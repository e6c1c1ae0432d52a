package shared

import "context"

type actorContextKey struct{}

// Actor is the authenticated operator an admin request acts on behalf of.
type Actor struct {
	ID   int64
	Role string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.ID <= 0 {
		return Actor{}, false
	}
	return actor, true
}
