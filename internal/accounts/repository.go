package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// Repository provides PostgreSQL backed persistence. It is the identity
// collaborator consulted by the moderation engine.
type Repository struct {
	q db.Querier
}

// NewRepository constructs a repository over a pool or a transaction.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

const accountColumns = `id, username, role, status, created_at, updated_at`

// Get returns the account or shared.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (Account, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
		}
		return Account{}, shared.Unavailable(err)
	}
	return acc, nil
}

// Role returns the account role.
func (r *Repository) Role(ctx context.Context, id int64) (rbac.Role, error) {
	acc, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return acc.Role, nil
}

// Status returns the denormalised account status.
func (r *Repository) Status(ctx context.Context, id int64) (Status, error) {
	acc, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return acc.Status, nil
}

// SetStatus writes the account status. Callers inside a ledger transaction
// construct the repository over the pgx.Tx.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.q.Exec(ctx, `UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return shared.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// PromoteToModerator upgrades a USER after their first board is created.
// Moderators and Admins are left untouched.
func (r *Repository) PromoteToModerator(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE accounts SET role = $2, updated_at = NOW() WHERE id = $1 AND role = $3`,
		id, string(rbac.RoleModerator), string(rbac.RoleUser))
	if err != nil {
		return shared.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts an account; used by seeding and tests against a real database.
func (r *Repository) Create(ctx context.Context, username string, role rbac.Role) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, shared.InvalidInput("username required")
	}
	if !role.Valid() {
		return Account{}, shared.InvalidInput("unknown role %q", role)
	}
	row := r.q.QueryRow(ctx, `INSERT INTO accounts (username, role) VALUES ($1, $2) RETURNING `+accountColumns, username, string(role))
	acc, err := scanAccount(row)
	if err != nil {
		return Account{}, shared.Unavailable(err)
	}
	return acc, nil
}

// ListByStatus returns account ids currently in the given status.
func (r *Repository) ListByStatus(ctx context.Context, status Status) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM accounts WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, shared.Unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Unavailable(err)
	}
	return ids, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acc    Account
		role   string
		status string
	)
	if err := row.Scan(&acc.ID, &acc.Username, &role, &status, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return Account{}, err
	}
	acc.Role = rbac.Role(role)
	acc.Status = Status(status)
	return acc, nil
}
