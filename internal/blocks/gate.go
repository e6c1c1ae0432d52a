package blocks

import "context"

// Checker is the read side of the store the gate depends on.
type Checker interface {
	IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error)
	ListBlockedBy(ctx context.Context, blockerID int64) ([]int64, error)
}

// Gate turns block relations into posting and visibility decisions. It
// never writes and takes no locks.
type Gate struct {
	store Checker
}

// NewGate constructs a Gate.
func NewGate(store Checker) *Gate {
	return &Gate{store: store}
}

// CanPost is false iff the board owner has blocked the actor. Boards
// without an owner always permit posting.
func (g *Gate) CanPost(ctx context.Context, actorID int64, boardOwnerID *int64) (bool, error) {
	if boardOwnerID == nil || *boardOwnerID == actorID {
		return true, nil
	}
	blocked, err := g.store.IsBlocked(ctx, *boardOwnerID, actorID)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// CanReply is false iff the topic author or the board owner has blocked
// the actor.
func (g *Gate) CanReply(ctx context.Context, actorID, topicAuthorID int64, boardOwnerID *int64) (bool, error) {
	if topicAuthorID != actorID {
		blocked, err := g.store.IsBlocked(ctx, topicAuthorID, actorID)
		if err != nil {
			return false, err
		}
		if blocked {
			return false, nil
		}
	}
	return g.CanPost(ctx, actorID, boardOwnerID)
}

// IsMutualBlock is true iff a and b block each other.
func (g *Gate) IsMutualBlock(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	ab, err := g.store.IsBlocked(ctx, a, b)
	if err != nil || !ab {
		return false, err
	}
	return g.store.IsBlocked(ctx, b, a)
}

// FilterVisible drops items authored by accounts viewerID has blocked. The
// input slice is not modified and relative order is kept.
func FilterVisible[T any](ctx context.Context, g *Gate, viewerID int64, items []T, authorIDOf func(T) int64) ([]T, error) {
	if len(items) == 0 {
		return []T{}, nil
	}
	blocked, err := g.store.ListBlockedBy(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	hidden := make(map[int64]struct{}, len(blocked))
	for _, id := range blocked {
		hidden[id] = struct{}{}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, skip := hidden[authorIDOf(item)]; skip {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
