package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/lock"
	"github.com/agora-forum/agora/internal/shared"
)

// AccountPort resolves accounts referenced by a relation.
type AccountPort interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
}

// Store persists and queries block relations.
type Store struct {
	repo     RepositoryPort
	accounts AccountPort
	locker   lock.Locker
	audit    shared.AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
	lockWait time.Duration
}

// NewStore constructs a Store.
func NewStore(repo RepositoryPort, accounts AccountPort, locker lock.Locker, audit shared.AuditRecorder, logger *slog.Logger) *Store {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:     repo,
		accounts: accounts,
		locker:   locker,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
		lockWait: 5 * time.Second,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetLockWait bounds how long a mutation waits for the account lock.
func (s *Store) SetLockWait(d time.Duration) {
	if d > 0 {
		s.lockWait = d
	}
}

// Block records that blockerID blocks blockedID.
func (s *Store) Block(ctx context.Context, blockerID, blockedID int64, reason string) (Relation, error) {
	if blockerID <= 0 || blockedID <= 0 {
		return Relation{}, shared.InvalidInput("account ids must be positive")
	}
	if blockerID == blockedID {
		return Relation{}, shared.ErrSelfBlock
	}
	reason, err := shared.NormalizeReason(reason, false)
	if err != nil {
		return Relation{}, err
	}
	if _, err := s.accounts.Get(ctx, blockerID); err != nil {
		return Relation{}, err
	}
	target, err := s.accounts.Get(ctx, blockedID)
	if err != nil {
		return Relation{}, err
	}
	if target.IsAdmin() {
		return Relation{}, shared.ErrForbiddenTarget
	}

	release, err := s.acquire(ctx, blockerID)
	if err != nil {
		return Relation{}, err
	}
	defer release()

	var created Relation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ActiveRelation(ctx, blockerID, blockedID)
		if err != nil {
			return err
		}
		if existing != nil {
			return shared.ErrAlreadyBlocked
		}
		created, err = tx.Insert(ctx, Relation{
			BlockerID: blockerID,
			BlockedID: blockedID,
			Reason:    reason,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return Relation{}, err
	}

	s.record(ctx, shared.AuditLog{
		ActorID:  blockerID,
		Action:   shared.AuditBlockCreate,
		Entity:   "block_relation",
		EntityID: shared.EntityID(created.ID),
		Meta:     map[string]any{"blocked_id": blockedID},
	})
	return created, nil
}

// Unblock removes the ACTIVE relation blocker->blocked. It returns false
// when there was nothing to remove.
func (s *Store) Unblock(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	if blockerID <= 0 || blockedID <= 0 {
		return false, shared.InvalidInput("account ids must be positive")
	}
	release, err := s.acquire(ctx, blockerID)
	if err != nil {
		return false, err
	}
	defer release()

	var removedID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ActiveRelation(ctx, blockerID, blockedID)
		if err != nil || existing == nil {
			return err
		}
		if err := tx.MarkRemoved(ctx, existing.ID, s.now()); err != nil {
			return err
		}
		removedID = existing.ID
		return nil
	})
	if err != nil {
		return false, err
	}
	if removedID == 0 {
		return false, nil
	}

	s.record(ctx, shared.AuditLog{
		ActorID:  blockerID,
		Action:   shared.AuditBlockRemove,
		Entity:   "block_relation",
		EntityID: shared.EntityID(removedID),
		Meta:     map[string]any{"blocked_id": blockedID},
	})
	return true, nil
}

// IsBlocked reports whether blockerID currently blocks blockedID.
func (s *Store) IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	if blockerID == blockedID {
		return false, nil
	}
	return s.repo.IsBlocked(ctx, blockerID, blockedID)
}

// ListBlockedBy returns the accounts blockerID blocks.
func (s *Store) ListBlockedBy(ctx context.Context, blockerID int64) ([]int64, error) {
	return s.repo.ListBlockedBy(ctx, blockerID)
}

// ListBlockers returns the accounts blocking blockedID.
func (s *Store) ListBlockers(ctx context.Context, blockedID int64) ([]int64, error) {
	return s.repo.ListBlockers(ctx, blockedID)
}

// Search lists relations for operators.
func (s *Store) Search(ctx context.Context, filter Filter) ([]Relation, shared.Pagination, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, shared.Pagination{}, shared.InvalidInput("unknown block state %q", filter.State)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// PurgeAccount physically deletes every relation touching accountID. It is
// the cascade step run when identity removes an account.
func (s *Store) PurgeAccount(ctx context.Context, accountID, actorID int64) (int64, error) {
	if accountID <= 0 {
		return 0, shared.InvalidInput("account id must be positive")
	}
	release, err := s.acquire(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer release()

	var purged int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.DeleteForAccount(ctx, accountID)
		purged = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditBlockPurge,
			Entity:   "account",
			EntityID: shared.EntityID(accountID),
			Meta:     map[string]any{"removed": purged},
		})
	}
	return purged, nil
}

func (s *Store) acquire(ctx context.Context, accountID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, shared.AccountLockKey(accountID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
			return nil, shared.Unavailable(fmt.Errorf("account %d busy: %w", accountID, err))
		}
		return nil, shared.Unavailable(err)
	}
	return release, nil
}

func (s *Store) record(ctx context.Context, entry shared.AuditLog) {
	entry.At = s.now()
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("block audit write failed", slog.String("action", entry.Action), slog.String("entity_id", entry.EntityID), slog.Any("error", err))
	}
}
