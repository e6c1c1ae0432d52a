// Package access is the façade content services consult before every
// mutating request. It composes role capabilities, the ban ledger and block
// relations into a single allow or deny decision.
package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/content"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// Identity resolves the acting account.
type Identity interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
}

// Content resolves the board and topic a request targets.
type Content interface {
	Board(ctx context.Context, id int64) (content.Board, error)
	Topic(ctx context.Context, id int64) (content.Topic, error)
}

// BanChecker is the read side of the ban ledger.
type BanChecker interface {
	IsBanned(ctx context.Context, accountID int64) (bool, error)
	IsBannedOn(ctx context.Context, accountID, boardID int64) (bool, error)
}

// BlockChecker is the block gate.
type BlockChecker interface {
	CanPost(ctx context.Context, actorID int64, boardOwnerID *int64) (bool, error)
	CanReply(ctx context.Context, actorID, topicAuthorID int64, boardOwnerID *int64) (bool, error)
}

// DecisionObserver records decisions, typically as metrics.
type DecisionObserver interface {
	ObserveDecision(action, outcome string)
}

// Request is one authorization question. BoardID is required for
// CREATE_TOPIC and MANAGE_BOARD; TopicID for REPLY and MANAGE_TOPIC.
type Request struct {
	ActorID int64       `json:"actor_id"`
	Action  rbac.Action `json:"action"`
	BoardID *int64      `json:"board_id,omitempty"`
	TopicID *int64      `json:"topic_id,omitempty"`
}

// Decision is the outcome of Authorize. Reason is empty when allowed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the permitting decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denying decision.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Err returns nil when allowed, otherwise a shared.DeniedError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return shared.Denied(d.Reason)
}

// PublicMessage is safe to show to the actor. It is identical for every
// denial reason so block relations cannot be probed.
func (d Decision) PublicMessage() string {
	if d.Allowed {
		return ""
	}
	return shared.UserSafeMessage(shared.ErrDenied)
}

// Outcome is the metric label for the decision.
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return strings.ToLower(d.Reason)
}

// Gate answers authorization questions. It never writes and is safe for
// concurrent use.
type Gate struct {
	identity Identity
	content  Content
	bans     BanChecker
	blocks   BlockChecker
	table    rbac.Table
	observer DecisionObserver
	logger   *slog.Logger
}

// NewGate constructs a Gate using rbac.DefaultTable.
func NewGate(identity Identity, content Content, bans BanChecker, blocks BlockChecker, observer DecisionObserver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		identity: identity,
		content:  content,
		bans:     bans,
		blocks:   blocks,
		table:    rbac.DefaultTable,
		observer: observer,
		logger:   logger,
	}
}

// SetTable swaps the capability table.
func (g *Gate) SetTable(table rbac.Table) {
	if table != nil {
		g.table = table
	}
}

// Authorize decides whether the actor may perform the action. Errors are
// returned only when the decision could not be made.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	if req.ActorID <= 0 {
		return Decision{}, shared.InvalidInput("actor id must be positive")
	}
	if _, ok := rbac.ParseAction(string(req.Action)); !ok {
		return Decision{}, shared.InvalidInput("unknown action %q", req.Action)
	}
	decision, err := g.decide(ctx, req)
	if err != nil {
		g.logger.Warn("authorize failed", slog.Int64("actor_id", req.ActorID), slog.String("action", string(req.Action)), slog.Any("error", err))
		if g.observer != nil {
			g.observer.ObserveDecision(string(req.Action), "error")
		}
		return Decision{}, err
	}
	if g.observer != nil {
		g.observer.ObserveDecision(string(req.Action), decision.Outcome())
	}
	if !decision.Allowed {
		g.logger.Debug("authorize denied", slog.Int64("actor_id", req.ActorID), slog.String("action", string(req.Action)), slog.String("reason", decision.Reason))
	}
	return decision, nil
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, error) {
	actor, err := g.identity.Get(ctx, req.ActorID)
	if err != nil {
		return Decision{}, collaboratorError(err)
	}
	banned, err := g.bans.IsBanned(ctx, actor.ID)
	if err != nil {
		return Decision{}, collaboratorError(err)
	}
	if banned {
		return Deny(shared.DenyBanned), nil
	}

	target, err := g.resolve(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if target.board != nil {
		banned, err = g.bans.IsBannedOn(ctx, actor.ID, target.board.ID)
		if err != nil {
			return Decision{}, collaboratorError(err)
		}
		if banned {
			return Deny(shared.DenyBanned), nil
		}
	}

	if actor.Status == accounts.StatusInactive {
		return Deny(shared.DenyInactive), nil
	}

	if !g.table.Permits(actor.Role, req.Action, target.capabilityContext(actor.ID)) {
		return Deny(shared.DenyInsufficientRole), nil
	}

	ok := true
	switch req.Action {
	case rbac.ActionCreateTopic:
		ok, err = g.blocks.CanPost(ctx, actor.ID, target.board.OwnerID)
	case rbac.ActionReply:
		ok, err = g.blocks.CanReply(ctx, actor.ID, target.topic.AuthorID, target.board.OwnerID)
	}
	if err != nil {
		return Decision{}, collaboratorError(err)
	}
	if !ok {
		return Deny(shared.DenyBlocked), nil
	}
	return Allow(), nil
}

type target struct {
	board *content.Board
	topic *content.Topic
}

func (t target) capabilityContext(actorID int64) rbac.Context {
	var c rbac.Context
	if t.board != nil {
		c.IsBoardOwner = t.board.OwnedBy(actorID)
		c.BoardActive = t.board.Active
	}
	if t.topic != nil {
		c.IsTopicOwner = t.topic.AuthorID == actorID
		c.TopicOpen = t.topic.Open
	}
	return c
}

func (g *Gate) resolve(ctx context.Context, req Request) (target, error) {
	var t target
	switch req.Action {
	case rbac.ActionReply, rbac.ActionManageTopic:
		if req.TopicID == nil {
			return t, shared.InvalidInput("%s requires topic_id", req.Action)
		}
	case rbac.ActionCreateTopic, rbac.ActionManageBoard:
		if req.BoardID == nil && req.TopicID == nil {
			return t, shared.InvalidInput("%s requires board_id", req.Action)
		}
	}

	boardID := req.BoardID
	if req.TopicID != nil {
		topic, err := g.content.Topic(ctx, *req.TopicID)
		if err != nil {
			return t, collaboratorError(err)
		}
		if boardID != nil && *boardID != topic.BoardID {
			return t, shared.InvalidInput("topic %d does not belong to board %d", topic.ID, *boardID)
		}
		t.topic = &topic
		boardID = &topic.BoardID
	}
	if boardID != nil {
		board, err := g.content.Board(ctx, *boardID)
		if err != nil {
			return t, collaboratorError(err)
		}
		t.board = &board
	}
	return t, nil
}

// collaboratorError keeps not-found and input errors, and reports anything
// else as retryable.
func collaboratorError(err error) error {
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidInput) {
		return err
	}
	return shared.Unavailable(err)
}
