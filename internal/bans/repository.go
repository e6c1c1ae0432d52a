package bans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/shared"
)

// RepositoryPort is the persistence contract consumed by Ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Record, error)
	ActiveForAccount(ctx context.Context, accountID int64) ([]Record, error)
	History(ctx context.Context, accountID int64) ([]Record, error)
	Search(ctx context.Context, filter Filter) ([]Record, int, error)
	// AccountsWithExpired lists accounts holding ACTIVE records past expiry.
	AccountsWithExpired(ctx context.Context, now time.Time) ([]int64, error)
	// DriftedAccounts lists accounts whose status disagrees with the ledger.
	DriftedAccounts(ctx context.Context, now time.Time) ([]int64, error)
}

// TxRepository exposes the writes of one ledger transaction. Ban rows,
// account status and audit rows commit together.
type TxRepository interface {
	LockedGet(ctx context.Context, id int64) (Record, error)
	LockedActiveForAccount(ctx context.Context, accountID int64) ([]Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	MarkLifted(ctx context.Context, id int64, liftedBy *int64, at time.Time) (bool, error)
	Delete(ctx context.Context, id int64) error
	AccountStatus(ctx context.Context, accountID int64) (accounts.Status, error)
	SetAccountStatus(ctx context.Context, accountID int64, status accounts.Status) error
	Audit(ctx context.Context, entry shared.AuditLog) error
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
		return fn(ctx, &txRepository{
			q:        tx,
			accounts: accounts.NewRepository(tx),
			audit:    shared.NewAuditLogger(tx),
		})
	})
	if err != nil && !isDomainError(err) {
		return shared.Unavailable(err)
	}
	return err
}

const recordColumns = `id, account_id, issuer_id, board_id, reason, issued_at, expires_at, permanent, state, lifted_by, lifted_at`

// Get returns a record or shared.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	return getRecord(ctx, r.pool, id, "")
}

// ActiveForAccount returns ACTIVE records for an account, including ones
// past expiry the sweep has not reached yet.
func (r *Repository) ActiveForAccount(ctx context.Context, accountID int64) ([]Record, error) {
	return queryRecords(ctx, r.pool, `SELECT `+recordColumns+` FROM bans WHERE account_id = $1 AND state = 'ACTIVE' ORDER BY issued_at DESC, id DESC`, accountID)
}

// History returns every record of an account, newest first.
func (r *Repository) History(ctx context.Context, accountID int64) ([]Record, error) {
	return queryRecords(ctx, r.pool, `SELECT `+recordColumns+` FROM bans WHERE account_id = $1 ORDER BY issued_at DESC, id DESC`, accountID)
}

// Search lists records for the admin surface, newest first.
func (r *Repository) Search(ctx context.Context, filter Filter) ([]Record, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.BoardID != nil {
		args = append(args, *filter.BoardID)
		where = append(where, fmt.Sprintf("board_id = $%d", len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bans`+clause, args...).Scan(&total); err != nil {
		return nil, 0, shared.Unavailable(err)
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	records, err := queryRecords(ctx, r.pool, fmt.Sprintf(`SELECT %s FROM bans%s ORDER BY issued_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		recordColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// AccountsWithExpired implements RepositoryPort.
func (r *Repository) AccountsWithExpired(ctx context.Context, now time.Time) ([]int64, error) {
	return queryIDs(ctx, r.pool, `SELECT DISTINCT account_id FROM bans
WHERE state = 'ACTIVE' AND NOT permanent AND expires_at <= $1
ORDER BY account_id`, now)
}

// DriftedAccounts implements RepositoryPort.
func (r *Repository) DriftedAccounts(ctx context.Context, now time.Time) ([]int64, error) {
	return queryIDs(ctx, r.pool, `WITH banned AS (
    SELECT DISTINCT account_id FROM bans
    WHERE state = 'ACTIVE' AND board_id IS NULL AND (permanent OR expires_at > $1)
)
SELECT a.id FROM accounts a
LEFT JOIN banned b ON b.account_id = a.id
WHERE (a.status = 'BANNED' AND b.account_id IS NULL)
   OR (a.status <> 'BANNED' AND b.account_id IS NOT NULL)
ORDER BY a.id`, now)
}

type txRepository struct {
	q        db.Querier
	accounts *accounts.Repository
	audit    *shared.AuditLogger
}

func (t *txRepository) LockedGet(ctx context.Context, id int64) (Record, error) {
	return getRecord(ctx, t.q, id, " FOR UPDATE")
}

func (t *txRepository) LockedActiveForAccount(ctx context.Context, accountID int64) ([]Record, error) {
	return queryRecords(ctx, t.q, `SELECT `+recordColumns+` FROM bans WHERE account_id = $1 AND state = 'ACTIVE' ORDER BY issued_at DESC, id DESC FOR UPDATE`, accountID)
}

func (t *txRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO bans (account_id, issuer_id, board_id, reason, issued_at, expires_at, permanent, state)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'ACTIVE')
RETURNING `+recordColumns, rec.AccountID, rec.IssuerID, rec.BoardID, rec.Reason, rec.IssuedAt, rec.ExpiresAt, rec.Permanent)
	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Record{}, shared.ErrAlreadyBanned
			case "23503":
				return Record{}, fmt.Errorf("ban reference: %w", shared.ErrNotFound)
			}
		}
		return Record{}, shared.Unavailable(err)
	}
	return out, nil
}

func (t *txRepository) MarkLifted(ctx context.Context, id int64, liftedBy *int64, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `UPDATE bans SET state = 'LIFTED', lifted_by = $2, lifted_at = $3 WHERE id = $1 AND state = 'ACTIVE'`, id, liftedBy, at)
	if err != nil {
		return false, shared.Unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM bans WHERE id = $1 AND state = 'LIFTED'`, id)
	if err != nil {
		return shared.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ban %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) AccountStatus(ctx context.Context, accountID int64) (accounts.Status, error) {
	return t.accounts.Status(ctx, accountID)
}

func (t *txRepository) SetAccountStatus(ctx context.Context, accountID int64, status accounts.Status) error {
	return t.accounts.SetStatus(ctx, accountID, status)
}

func (t *txRepository) Audit(ctx context.Context, entry shared.AuditLog) error {
	return t.audit.Record(ctx, entry)
}

func getRecord(ctx context.Context, q db.Querier, id int64, suffix string) (Record, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM bans WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("ban %d: %w", id, shared.ErrNotFound)
		}
		return Record{}, shared.Unavailable(err)
	}
	return rec, nil
}

func queryRecords(ctx context.Context, q db.Querier, query string, args ...any) ([]Record, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, shared.Unavailable(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Unavailable(err)
	}
	return out, nil
}

func queryIDs(ctx context.Context, q db.Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Unavailable(err)
	}
	return ids, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		state string
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.IssuerID, &rec.BoardID, &rec.Reason, &rec.IssuedAt,
		&rec.ExpiresAt, &rec.Permanent, &state, &rec.LiftedBy, &rec.LiftedAt)
	if err != nil {
		return Record{}, err
	}
	rec.State = State(state)
	return rec, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidInput) || errors.Is(err, shared.ErrDenied) ||
		errors.Is(err, shared.ErrUnavailable)
}
