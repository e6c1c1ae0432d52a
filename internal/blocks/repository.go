package blocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/shared"
)

// RepositoryPort is the persistence contract consumed by Store.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error)
	ListBlockedBy(ctx context.Context, blockerID int64) ([]int64, error)
	ListBlockers(ctx context.Context, blockedID int64) ([]int64, error)
	Search(ctx context.Context, filter Filter) ([]Relation, int, error)
}

// TxRepository exposes writes that run inside a transaction.
type TxRepository interface {
	ActiveRelation(ctx context.Context, blockerID, blockedID int64) (*Relation, error)
	Insert(ctx context.Context, rel Relation) (Relation, error)
	MarkRemoved(ctx context.Context, id int64, at time.Time) error
	DeleteForAccount(ctx context.Context, accountID int64) (int64, error)
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepository)(nil)
)

// Repository is the pgx implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
	if err != nil && !isDomainError(err) {
		return shared.Unavailable(err)
	}
	return err
}

// IsBlocked reports whether an ACTIVE relation blocker->blocked exists.
func (r *Repository) IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM block_relations WHERE blocker_id = $1 AND blocked_id = $2 AND state = 'ACTIVE')`, blockerID, blockedID).Scan(&exists)
	if err != nil {
		return false, shared.Unavailable(err)
	}
	return exists, nil
}

// ListBlockedBy returns the accounts blockerID currently blocks.
func (r *Repository) ListBlockedBy(ctx context.Context, blockerID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT blocked_id FROM block_relations WHERE blocker_id = $1 AND state = 'ACTIVE' ORDER BY created_at, id`, blockerID)
}

// ListBlockers returns the accounts currently blocking blockedID.
func (r *Repository) ListBlockers(ctx context.Context, blockedID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT blocker_id FROM block_relations WHERE blocked_id = $1 AND state = 'ACTIVE' ORDER BY created_at, id`, blockedID)
}

func (r *Repository) listIDs(ctx context.Context, query string, id int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	return ids, nil
}

// Search lists relations for the admin surface, newest first.
func (r *Repository) Search(ctx context.Context, filter Filter) ([]Relation, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.BlockerID != nil {
		args = append(args, *filter.BlockerID)
		where = append(where, fmt.Sprintf("blocker_id = $%d", len(args)))
	}
	if filter.BlockedID != nil {
		args = append(args, *filter.BlockedID)
		where = append(where, fmt.Sprintf("blocked_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM block_relations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, shared.Unavailable(err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	query := fmt.Sprintf(`SELECT %s FROM block_relations%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		relationColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, shared.Unavailable(err)
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, 0, shared.Unavailable(err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, shared.Unavailable(err)
	}
	return out, total, nil
}

type txRepository struct {
	q db.Querier
}

func (t *txRepository) ActiveRelation(ctx context.Context, blockerID, blockedID int64) (*Relation, error) {
	row := t.q.QueryRow(ctx, `SELECT `+relationColumns+` FROM block_relations
WHERE blocker_id = $1 AND blocked_id = $2 AND state = 'ACTIVE' FOR UPDATE`, blockerID, blockedID)
	rel, err := scanRelation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	return &rel, nil
}

func (t *txRepository) Insert(ctx context.Context, rel Relation) (Relation, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO block_relations (blocker_id, blocked_id, reason, state, created_at, updated_at)
VALUES ($1, $2, $3, 'ACTIVE', $4, $4)
RETURNING `+relationColumns, rel.BlockerID, rel.BlockedID, rel.Reason, rel.CreatedAt)
	out, err := scanRelation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Relation{}, shared.ErrAlreadyBlocked
			case "23503":
				return Relation{}, fmt.Errorf("account: %w", shared.ErrNotFound)
			}
		}
		return Relation{}, shared.Unavailable(err)
	}
	return out, nil
}

func (t *txRepository) MarkRemoved(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.q.Exec(ctx, `UPDATE block_relations SET state = 'REMOVED', updated_at = $2 WHERE id = $1 AND state = 'ACTIVE'`, id, at)
	if err != nil {
		return shared.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("block relation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) DeleteForAccount(ctx context.Context, accountID int64) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM block_relations WHERE blocker_id = $1 OR blocked_id = $1`, accountID)
	if err != nil {
		return 0, shared.Unavailable(err)
	}
	return tag.RowsAffected(), nil
}

const relationColumns = `id, blocker_id, blocked_id, COALESCE(reason, ''), state, created_at, updated_at`

func scanRelation(row pgx.Row) (Relation, error) {
	var (
		rel   Relation
		state string
	)
	if err := row.Scan(&rel.ID, &rel.BlockerID, &rel.BlockedID, &rel.Reason, &state, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
		return Relation{}, err
	}
	rel.State = State(state)
	return rel, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidInput) || errors.Is(err, shared.ErrUnavailable)
}
