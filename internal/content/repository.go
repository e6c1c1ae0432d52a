package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/shared"
)

// Repository reads content ownership facts from PostgreSQL.
type Repository struct {
	q db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// Board loads a board or returns shared.ErrNotFound.
func (r *Repository) Board(ctx context.Context, id int64) (Board, error) {
	var b Board
	err := r.q.QueryRow(ctx, `SELECT id, owner_id, active FROM boards WHERE id = $1`, id).Scan(&b.ID, &b.OwnerID, &b.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Board{}, fmt.Errorf("board %d: %w", id, shared.ErrNotFound)
		}
		return Board{}, shared.Unavailable(err)
	}
	return b, nil
}

// Topic loads a topic or returns shared.ErrNotFound.
func (r *Repository) Topic(ctx context.Context, id int64) (Topic, error) {
	var t Topic
	err := r.q.QueryRow(ctx, `SELECT id, board_id, author_id, open FROM topics WHERE id = $1`, id).Scan(&t.ID, &t.BoardID, &t.AuthorID, &t.Open)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Topic{}, fmt.Errorf("topic %d: %w", id, shared.ErrNotFound)
		}
		return Topic{}, shared.Unavailable(err)
	}
	return t, nil
}

// IsBoardOwner reports whether accountID owns boardID.
func (r *Repository) IsBoardOwner(ctx context.Context, accountID, boardID int64) (bool, error) {
	b, err := r.Board(ctx, boardID)
	if err != nil {
		return false, err
	}
	return b.OwnedBy(accountID), nil
}

// IsBoardActive reports whether boardID accepts new topics.
func (r *Repository) IsBoardActive(ctx context.Context, boardID int64) (bool, error) {
	b, err := r.Board(ctx, boardID)
	if err != nil {
		return false, err
	}
	return b.Active, nil
}

// IsTopicOwner reports whether accountID authored topicID.
func (r *Repository) IsTopicOwner(ctx context.Context, accountID, topicID int64) (bool, error) {
	t, err := r.Topic(ctx, topicID)
	if err != nil {
		return false, err
	}
	return t.AuthorID == accountID, nil
}

// IsTopicOpen reports whether topicID accepts replies.
func (r *Repository) IsTopicOpen(ctx context.Context, topicID int64) (bool, error) {
	t, err := r.Topic(ctx, topicID)
	if err != nil {
		return false, err
	}
	return t.Open, nil
}

// BoardOwner returns the owner of boardID, nil when the board has none.
func (r *Repository) BoardOwner(ctx context.Context, boardID int64) (*int64, error) {
	b, err := r.Board(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return b.OwnerID, nil
}

// AuthorOf returns the author of a topic or reply.
func (r *Repository) AuthorOf(ctx context.Context, ref ItemRef) (int64, error) {
	var query string
	switch ref.Kind {
	case KindTopic:
		query = `SELECT author_id FROM topics WHERE id = $1`
	case KindReply:
		query = `SELECT author_id FROM replies WHERE id = $1`
	default:
		return 0, shared.InvalidInput("unknown content kind %q", ref.Kind)
	}
	var author int64
	if err := r.q.QueryRow(ctx, query, ref.ID).Scan(&author); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, shared.ErrNotFound)
		}
		return 0, shared.Unavailable(err)
	}
	return author, nil
}

// TopicBoard returns the board a topic belongs to.
func (r *Repository) TopicBoard(ctx context.Context, topicID int64) (int64, error) {
	t, err := r.Topic(ctx, topicID)
	if err != nil {
		return 0, err
	}
	return t.BoardID, nil
}
