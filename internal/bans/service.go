package bans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/lock"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// AccountPort resolves issuers and targets.
type AccountPort interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
}

// BoardPort answers board ownership for scoped bans.
type BoardPort interface {
	IsBoardOwner(ctx context.Context, accountID, boardID int64) (bool, error)
}

// Ledger owns ban records and keeps account status consistent with them.
// Mutations are serialised per account; reads take no locks.
type Ledger struct {
	repo        RepositoryPort
	accounts    AccountPort
	boards      BoardPort
	locker      lock.Locker
	logger      *slog.Logger
	now         func() time.Time
	lockWait    time.Duration
	concurrency int
}

// NewLedger constructs a Ledger.
func NewLedger(repo RepositoryPort, accounts AccountPort, boards BoardPort, locker lock.Locker, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:        repo,
		accounts:    accounts,
		boards:      boards,
		locker:      locker,
		logger:      logger,
		now:         time.Now,
		lockWait:    5 * time.Second,
		concurrency: 4,
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// SetLockWait bounds how long a mutation waits for the account lock.
func (l *Ledger) SetLockWait(d time.Duration) {
	if d > 0 {
		l.lockWait = d
	}
}

// SetSweepConcurrency bounds how many accounts a sweep settles at once.
func (l *Ledger) SetSweepConcurrency(n int) {
	if n > 0 {
		l.concurrency = n
	}
}

// Issue records a new ban. Global bans flip the account to BANNED in the
// same transaction.
func (l *Ledger) Issue(ctx context.Context, in IssueInput) (Record, error) {
	if in.AccountID <= 0 || in.IssuerID <= 0 {
		return Record{}, shared.InvalidInput("account and issuer ids must be positive")
	}
	if in.AccountID == in.IssuerID {
		return Record{}, shared.InvalidInput("an account cannot ban itself")
	}
	if in.Duration < 0 {
		return Record{}, shared.InvalidInput("duration must not be negative")
	}
	if in.BoardID != nil && *in.BoardID <= 0 {
		return Record{}, shared.InvalidInput("board id must be positive")
	}
	reason, err := shared.NormalizeReason(in.Reason, true)
	if err != nil {
		return Record{}, err
	}

	target, err := l.accounts.Get(ctx, in.AccountID)
	if err != nil {
		return Record{}, err
	}
	if target.IsAdmin() {
		return Record{}, shared.ErrForbiddenTarget
	}
	if err := l.authorize(ctx, in.IssuerID, in.BoardID); err != nil {
		return Record{}, err
	}

	release, err := l.acquire(ctx, in.AccountID)
	if err != nil {
		return Record{}, err
	}
	defer release()

	now := l.now()
	rec := Record{
		AccountID: in.AccountID,
		IssuerID:  in.IssuerID,
		BoardID:   in.BoardID,
		Reason:    reason,
		IssuedAt:  now,
		Permanent: in.Duration == 0,
	}
	if !rec.Permanent {
		expires := now.Add(in.Duration)
		rec.ExpiresAt = &expires
	}

	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		active, err := tx.LockedActiveForAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		for _, existing := range active {
			if !sameScope(existing.BoardID, in.BoardID) {
				continue
			}
			if existing.InEffect(now) {
				return shared.ErrAlreadyBanned
			}
			// An expired record the sweep has not reached yet still holds
			// the scope's slot.
			if _, err := l.liftInTx(ctx, tx, existing, nil, shared.AuditBanExpire, now); err != nil {
				return err
			}
		}
		rec, err = tx.Insert(ctx, rec)
		if err != nil {
			return err
		}
		if err := tx.Audit(ctx, auditEntry(in.IssuerID, shared.AuditBanIssue, rec, now)); err != nil {
			return err
		}
		_, _, err = l.settleInTx(ctx, tx, in.AccountID, now)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	l.logger.Info("ban issued", slog.Int64("ban_id", rec.ID), slog.Int64("account_id", rec.AccountID), slog.Int64("issuer_id", rec.IssuerID), slog.Bool("permanent", rec.Permanent))
	return rec, nil
}

// Lift marks a ban LIFTED and restores the account status when nothing else
// keeps it banned. It returns false when the record was already lifted.
func (l *Ledger) Lift(ctx context.Context, banID, liftedBy int64) (bool, error) {
	if banID <= 0 || liftedBy <= 0 {
		return false, shared.InvalidInput("ban and actor ids must be positive")
	}
	rec, err := l.repo.Get(ctx, banID)
	if err != nil {
		return false, err
	}
	if rec.State == StateLifted {
		return false, nil
	}
	if err := l.authorize(ctx, liftedBy, rec.BoardID); err != nil {
		return false, err
	}

	release, err := l.acquire(ctx, rec.AccountID)
	if err != nil {
		return false, err
	}
	defer release()

	var lifted bool
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := l.now()
		current, err := tx.LockedGet(ctx, banID)
		if err != nil {
			return err
		}
		lifted, err = l.liftInTx(ctx, tx, current, &liftedBy, shared.AuditBanLift, now)
		if err != nil || !lifted {
			return err
		}
		_, _, err = l.settleInTx(ctx, tx, current.AccountID, now)
		return err
	})
	if err != nil {
		return false, err
	}
	return lifted, nil
}

// LiftAllForAccount lifts every ACTIVE record of an account the actor is
// allowed to lift and returns how many transitioned.
func (l *Ledger) LiftAllForAccount(ctx context.Context, accountID, liftedBy int64) (int, error) {
	if accountID <= 0 || liftedBy <= 0 {
		return 0, shared.InvalidInput("account and actor ids must be positive")
	}
	if _, err := l.accounts.Get(ctx, accountID); err != nil {
		return 0, err
	}
	return l.liftForAccount(ctx, accountID, liftedBy, nil)
}

// BatchLift lifts each listed ban, skipping invalid, absent, already lifted
// and unauthorised ids. Storage or lock failures on one account are logged
// and its ids reported in Failed; the remaining accounts are still lifted.
func (l *Ledger) BatchLift(ctx context.Context, ids []int64, liftedBy int64) (BatchLiftResult, error) {
	var result BatchLiftResult
	if liftedBy <= 0 {
		return result, shared.InvalidInput("actor id must be positive")
	}
	if _, err := l.accounts.Get(ctx, liftedBy); err != nil {
		return result, err
	}
	byAccount := make(map[int64]map[int64]struct{})
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		rec, err := l.repo.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			l.logger.Warn("batch lift lookup failed", slog.Int64("ban_id", id), slog.Any("error", err))
			result.Failed = append(result.Failed, id)
			continue
		}
		if rec.State != StateActive {
			continue
		}
		if byAccount[rec.AccountID] == nil {
			byAccount[rec.AccountID] = make(map[int64]struct{})
		}
		byAccount[rec.AccountID][id] = struct{}{}
	}

	accountIDs := make([]int64, 0, len(byAccount))
	for id := range byAccount {
		accountIDs = append(accountIDs, id)
	}
	sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i] < accountIDs[j] })

	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, err := l.liftForAccount(ctx, accountID, liftedBy, byAccount[accountID])
		if err != nil {
			l.logger.Warn("batch lift account failed", slog.Int64("account_id", accountID), slog.Any("error", err))
			for id := range byAccount[accountID] {
				result.Failed = append(result.Failed, id)
			}
			continue
		}
		result.Lifted += n
	}
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i] < result.Failed[j] })
	return result, nil
}

// liftForAccount lifts ACTIVE records of one account, restricted to only
// when it is non-nil. Records the actor may not lift are skipped.
func (l *Ledger) liftForAccount(ctx context.Context, accountID, liftedBy int64, only map[int64]struct{}) (int, error) {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer release()

	permitted := newScopeCache(func(boardID *int64) error { return l.authorize(ctx, liftedBy, boardID) })
	count := 0
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count = 0
		now := l.now()
		active, err := tx.LockedActiveForAccount(ctx, accountID)
		if err != nil {
			return err
		}
		for _, rec := range active {
			if only != nil {
				if _, ok := only[rec.ID]; !ok {
					continue
				}
			}
			ok, err := permitted.allowed(rec.BoardID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			lifted, err := l.liftInTx(ctx, tx, rec, &liftedBy, shared.AuditBanLift, now)
			if err != nil {
				return err
			}
			if lifted {
				count++
			}
		}
		if count == 0 {
			return nil
		}
		_, _, err = l.settleInTx(ctx, tx, accountID, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SweepExpired lifts every ACTIVE temporary record past its expiry and
// repairs accounts whose status disagrees with the ledger. Failures are
// logged and skipped; the sweep stops early only when ctx is done.
func (l *Ledger) SweepExpired(ctx context.Context) (SweepResult, error) {
	result := SweepResult{RunID: uuid.NewString()}
	logger := l.logger.With(slog.String("run_id", result.RunID))
	now := l.now()

	expired, err := l.repo.AccountsWithExpired(ctx, now)
	if err != nil {
		return result, err
	}
	drifted, err := l.repo.DriftedAccounts(ctx, now)
	if err != nil {
		return result, err
	}
	targets := mergeIDs(expired, drifted)
	result.Accounts = len(targets)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(l.concurrency)
	for _, accountID := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			lifted, repaired, err := l.settleAccount(ctx, accountID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				logger.Warn("ban sweep account failed", slog.Int64("account_id", accountID), slog.Any("error", err))
				return nil
			}
			result.Lifted += lifted
			if repaired {
				result.Repaired++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("ban sweep finished", slog.Int("accounts", result.Accounts), slog.Int("lifted", result.Lifted), slog.Int("repaired", result.Repaired), slog.Int("failed", result.Failed))
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("ban sweep interrupted: %w", err)
	}
	return result, nil
}

// settleAccount expires due records of one account and reconciles its status.
func (l *Ledger) settleAccount(ctx context.Context, accountID int64) (int, bool, error) {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	defer release()

	var (
		lifted   int
		repaired bool
	)
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lifted, repaired = 0, false
		now := l.now()
		active, err := tx.LockedActiveForAccount(ctx, accountID)
		if err != nil {
			return err
		}
		for _, rec := range active {
			if !rec.Expired(now) {
				continue
			}
			ok, err := l.liftInTx(ctx, tx, rec, nil, shared.AuditBanExpire, now)
			if err != nil {
				return err
			}
			if ok {
				lifted++
			}
		}
		from, to, err := l.settleInTx(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		if from == to || lifted > 0 {
			return nil
		}
		repaired = true
		return tx.Audit(ctx, shared.AuditLog{
			Action:   shared.AuditBanRepair,
			Entity:   "account",
			EntityID: shared.EntityID(accountID),
			Meta:     map[string]any{"from": string(from), "to": string(to)},
			At:       now,
		})
	})
	return lifted, repaired, err
}

// Reconcile re-derives an account's status from the ledger and returns it.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (accounts.Status, error) {
	if accountID <= 0 {
		return "", shared.InvalidInput("account id must be positive")
	}
	if _, err := l.accounts.Get(ctx, accountID); err != nil {
		return "", err
	}
	if _, _, err := l.settleAccount(ctx, accountID); err != nil {
		return "", err
	}
	acc, err := l.accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acc.Status, nil
}

// Delete physically removes a LIFTED record. Only admins may delete.
func (l *Ledger) Delete(ctx context.Context, banID, actorID int64) error {
	if banID <= 0 || actorID <= 0 {
		return shared.InvalidInput("ban and actor ids must be positive")
	}
	actor, err := l.accounts.Get(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return shared.Denied(shared.DenyInsufficientRole)
	}
	rec, err := l.repo.Get(ctx, banID)
	if err != nil {
		return err
	}

	release, err := l.acquire(ctx, rec.AccountID)
	if err != nil {
		return err
	}
	defer release()

	return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockedGet(ctx, banID)
		if err != nil {
			return err
		}
		if current.State != StateLifted {
			return fmt.Errorf("%w: ban %d must be lifted before deletion", shared.ErrConflict, banID)
		}
		if err := tx.Delete(ctx, banID); err != nil {
			return err
		}
		return tx.Audit(ctx, auditEntry(actorID, shared.AuditBanDelete, current, l.now()))
	})
}

// IsBanned reports whether a global ban is in effect for the account. This
// is the authoritative check; account status is for display only.
func (l *Ledger) IsBanned(ctx context.Context, accountID int64) (bool, error) {
	active, err := l.repo.ActiveForAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	now := l.now()
	for _, rec := range active {
		if rec.Global() && rec.InEffect(now) {
			return true, nil
		}
	}
	return false, nil
}

// IsBannedOn reports whether a global ban or a ban scoped to boardID is in
// effect for the account.
func (l *Ledger) IsBannedOn(ctx context.Context, accountID, boardID int64) (bool, error) {
	active, err := l.repo.ActiveForAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	now := l.now()
	for _, rec := range active {
		if rec.Covers(boardID) && rec.InEffect(now) {
			return true, nil
		}
	}
	return false, nil
}

// CurrentRecord returns the ban in effect for the account, preferring a
// global one. It returns nil when none is in effect.
func (l *Ledger) CurrentRecord(ctx context.Context, accountID int64) (*Record, error) {
	active, err := l.repo.ActiveForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	var current *Record
	for i := range active {
		rec := active[i]
		if !rec.InEffect(now) {
			continue
		}
		if current == nil || (rec.Global() && !current.Global()) {
			current = &rec
		}
	}
	return current, nil
}

// History returns every record of the account, newest first.
func (l *Ledger) History(ctx context.Context, accountID int64) ([]Record, error) {
	return l.repo.History(ctx, accountID)
}

// Get returns a single record.
func (l *Ledger) Get(ctx context.Context, banID int64) (Record, error) {
	return l.repo.Get(ctx, banID)
}

// Search lists records for operators.
func (l *Ledger) Search(ctx context.Context, filter Filter) ([]Record, shared.Pagination, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, shared.Pagination{}, shared.InvalidInput("unknown ban state %q", filter.State)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := l.repo.Search(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// authorize checks that actorID may issue or lift a ban in the given scope.
func (l *Ledger) authorize(ctx context.Context, actorID int64, boardID *int64) error {
	actor, err := l.accounts.Get(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Status != accounts.StatusActive {
		return shared.Denied(shared.DenyInactive)
	}
	var owner bool
	if boardID != nil && l.boards != nil {
		owner, err = l.boards.IsBoardOwner(ctx, actorID, *boardID)
		if err != nil {
			return err
		}
	}
	if !rbac.Permits(actor.Role, rbac.ActionIssueBan, rbac.Context{IsBoardOwner: owner}) {
		return shared.Denied(shared.DenyInsufficientRole)
	}
	return nil
}

func (l *Ledger) liftInTx(ctx context.Context, tx TxRepository, rec Record, liftedBy *int64, action string, now time.Time) (bool, error) {
	if rec.State != StateActive {
		return false, nil
	}
	ok, err := tx.MarkLifted(ctx, rec.ID, liftedBy, now)
	if err != nil || !ok {
		return false, err
	}
	var actor int64
	if liftedBy != nil {
		actor = *liftedBy
	}
	if err := tx.Audit(ctx, auditEntry(actor, action, rec, now)); err != nil {
		return false, err
	}
	return true, nil
}

// settleInTx writes the status the ledger implies for the account and
// returns the previous and resulting status. INACTIVE accounts stay
// INACTIVE unless a global ban is in effect.
func (l *Ledger) settleInTx(ctx context.Context, tx TxRepository, accountID int64, now time.Time) (accounts.Status, accounts.Status, error) {
	active, err := tx.LockedActiveForAccount(ctx, accountID)
	if err != nil {
		return "", "", err
	}
	banned := false
	for _, rec := range active {
		if rec.Global() && rec.InEffect(now) {
			banned = true
			break
		}
	}
	current, err := tx.AccountStatus(ctx, accountID)
	if err != nil {
		return "", "", err
	}
	want := current
	switch {
	case banned:
		want = accounts.StatusBanned
	case current == accounts.StatusBanned:
		want = accounts.StatusActive
	}
	if want == current {
		return current, current, nil
	}
	if err := tx.SetAccountStatus(ctx, accountID, want); err != nil {
		return "", "", err
	}
	return current, want, nil
}

func (l *Ledger) acquire(ctx context.Context, accountID int64) (func(), error) {
	if l.locker == nil {
		return func() {}, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()
	release, err := l.locker.Acquire(lockCtx, shared.AccountLockKey(accountID))
	if err != nil {
		return nil, shared.Unavailable(fmt.Errorf("account %d busy: %w", accountID, err))
	}
	return release, nil
}

func auditEntry(actorID int64, action string, rec Record, at time.Time) shared.AuditLog {
	meta := map[string]any{"account_id": rec.AccountID, "permanent": rec.Permanent}
	if rec.BoardID != nil {
		meta["board_id"] = *rec.BoardID
	}
	if rec.ExpiresAt != nil {
		meta["expires_at"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ban",
		EntityID: shared.EntityID(rec.ID),
		Meta:     meta,
		At:       at,
	}
}

func mergeIDs(lists ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// scopeCache memoises authorization per ban scope within one call.
type scopeCache struct {
	check  func(*int64) error
	global *bool
	boards map[int64]bool
}

func newScopeCache(check func(*int64) error) *scopeCache {
	return &scopeCache{check: check, boards: make(map[int64]bool)}
}

func (c *scopeCache) allowed(boardID *int64) (bool, error) {
	if boardID == nil && c.global != nil {
		return *c.global, nil
	}
	if boardID != nil {
		if ok, seen := c.boards[*boardID]; seen {
			return ok, nil
		}
	}
	err := c.check(boardID)
	ok := err == nil
	if err != nil && !errors.Is(err, shared.ErrDenied) {
		return false, err
	}
	if boardID == nil {
		c.global = &ok
	} else {
		c.boards[*boardID] = ok
	}
	return ok, nil
}
