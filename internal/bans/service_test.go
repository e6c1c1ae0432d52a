package bans

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/lock"
	"github.com/agora-forum/agora/internal/shared"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ledger   *Ledger
	repo     *memRepo
	accounts *memAccounts
	clock    *fakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	accs := fixtureAccounts()
	repo := newMemRepo(accs)
	clock := &fakeClock{now: t0}
	ledger := NewLedger(repo, accs, memBoards{boardX: modOwner}, lock.NewLocal(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ledger.SetClock(clock.Now)
	return fixture{ledger: ledger, repo: repo, accounts: accs, clock: clock}
}

// requireConsistent checks status == BANNED iff IsBanned for every account.
func (f fixture) requireConsistent(t *testing.T) {
	t.Helper()
	for id := range f.accounts.snapshot() {
		banned, err := f.ledger.IsBanned(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, banned, f.accounts.status(id) == accounts.StatusBanned, "account %d", id)
	}
}

func TestIssueThenIsBanned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam", Duration: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	assert.False(t, rec.Permanent)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, t0.Add(24*time.Hour), *rec.ExpiresAt)

	banned, err := f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userA))
	f.requireConsistent(t)

	lifted, err := f.ledger.Lift(ctx, rec.ID, adminRoot)
	require.NoError(t, err)
	assert.True(t, lifted)

	banned, err = f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))
	f.requireConsistent(t)

	assert.Equal(t, []string{shared.AuditBanIssue, shared.AuditBanLift}, f.repo.auditActions())
}

func TestIssuePermanent(t *testing.T) {
	f := newFixture(t)
	rec, err := f.ledger.Issue(context.Background(), IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "abuse"})
	require.NoError(t, err)
	assert.True(t, rec.Permanent)
	assert.Nil(t, rec.ExpiresAt)

	f.clock.Advance(10 * 365 * 24 * time.Hour)
	banned, err := f.ledger.IsBanned(context.Background(), userA)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestIssueValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name string
		in   IssueInput
		want error
	}{
		{"empty reason", IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "  "}, shared.ErrInvalidInput},
		{"malformed reason", IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam\xff"}, shared.ErrInvalidInput},
		{"negative duration", IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "x", Duration: -time.Hour}, shared.ErrInvalidInput},
		{"self ban", IssueInput{AccountID: adminRoot, IssuerID: adminRoot, Reason: "x"}, shared.ErrInvalidInput},
		{"unknown target", IssueInput{AccountID: 404, IssuerID: adminRoot, Reason: "x"}, shared.ErrNotFound},
		{"unknown issuer", IssueInput{AccountID: userA, IssuerID: 404, Reason: "x"}, shared.ErrNotFound},
		{"admin target", IssueInput{AccountID: adminRoot, IssuerID: modOwner, Reason: "spam"}, shared.ErrForbiddenTarget},
		{"user issuer", IssueInput{AccountID: userA, IssuerID: userB, Reason: "x"}, shared.ErrDenied},
		{"moderator global", IssueInput{AccountID: userA, IssuerID: modOwner, Reason: "x"}, shared.ErrDenied},
		{"moderator foreign board", IssueInput{AccountID: userA, IssuerID: modOther, Reason: "x", BoardID: ptr(boardX)}, shared.ErrDenied},
		{"unknown board", IssueInput{AccountID: userA, IssuerID: modOwner, Reason: "x", BoardID: ptr(int64(999))}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Issue(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	f.requireConsistent(t)
	assert.Empty(t, f.repo.auditActions())
}

func TestAdminCannotBeBanned(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Issue(context.Background(), IssueInput{AccountID: adminRoot, IssuerID: modOwner, Reason: "spam"})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, shared.ErrForbiddenTarget)
}

func TestIssueRejectsDuplicateInScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	_, err = f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "again"})
	require.ErrorIs(t, err, shared.ErrAlreadyBanned)

	// A board ban is a different scope.
	_, err = f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: modOwner, Reason: "off topic", BoardID: ptr(boardX)})
	require.NoError(t, err)
}

func TestIssueReplacesExpiredUnsweptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam", Duration: time.Hour})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	second, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam again", Duration: time.Hour})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := f.ledger.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StateLifted, old.State)
	assert.Nil(t, old.LiftedBy, "expired by the system")
	f.requireConsistent(t)
}

func TestBoardScopedBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: modOwner, Reason: "off topic", Duration: time.Hour, BoardID: ptr(boardX)})
	require.NoError(t, err)

	global, err := f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.False(t, global, "board bans do not ban globally")
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))

	onBoard, err := f.ledger.IsBannedOn(ctx, userA, boardX)
	require.NoError(t, err)
	assert.True(t, onBoard)
	elsewhere, err := f.ledger.IsBannedOn(ctx, userA, boardX+1)
	require.NoError(t, err)
	assert.False(t, elsewhere)

	current, err := f.ledger.CurrentRecord(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, rec.ID, current.ID)

	// Moderators may only lift bans on boards they own.
	_, err = f.ledger.Lift(ctx, rec.ID, modOther)
	require.ErrorIs(t, err, shared.ErrDenied)
	lifted, err := f.ledger.Lift(ctx, rec.ID, modOwner)
	require.NoError(t, err)
	assert.True(t, lifted)
	f.requireConsistent(t)
}

func TestGlobalBanCoversEveryBoard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	onBoard, err := f.ledger.IsBannedOn(ctx, userA, boardX)
	require.NoError(t, err)
	assert.True(t, onBoard)
}

func TestLiftSemantics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)

	lifted, err := f.ledger.Lift(ctx, rec.ID, adminRoot)
	require.NoError(t, err)
	assert.True(t, lifted)

	lifted, err = f.ledger.Lift(ctx, rec.ID, adminRoot)
	require.NoError(t, err)
	assert.False(t, lifted, "already lifted is a no-op")

	lifted, err = f.ledger.Lift(ctx, 999, adminRoot)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.False(t, lifted)

	_, err = f.ledger.Lift(ctx, 0, adminRoot)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestLiftKeepsBanWhileAnotherGlobalRecordActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A legacy duplicate, as could exist after a partial failure.
	f.repo.put(Record{AccountID: userA, IssuerID: adminRoot, Reason: "legacy", IssuedAt: t0.Add(-time.Hour), Permanent: true, State: StateActive})
	second := f.repo.put(Record{AccountID: userA, IssuerID: adminRoot, Reason: "legacy", IssuedAt: t0, Permanent: true, State: StateActive})
	f.accounts.setStatus(userA, accounts.StatusBanned)

	lifted, err := f.ledger.Lift(ctx, second.ID, adminRoot)
	require.NoError(t, err)
	assert.True(t, lifted)

	banned, err := f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userA))
}

func TestLiftAllForAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	_, err = f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: modOwner, Reason: "off topic", BoardID: ptr(boardX)})
	require.NoError(t, err)

	// The board moderator can only lift the board ban.
	n, err := f.ledger.LiftAllForAccount(ctx, userA, modOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userA))

	n, err = f.ledger.LiftAllForAccount(ctx, userA, adminRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))

	n, err = f.ledger.LiftAllForAccount(ctx, userA, adminRoot)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.ledger.LiftAllForAccount(ctx, 404, adminRoot)
	require.ErrorIs(t, err, shared.ErrNotFound)
	f.requireConsistent(t)
}

func TestBatchLiftSkipsInvalidIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	b, err := f.ledger.Issue(ctx, IssueInput{AccountID: userB, IssuerID: adminRoot, Reason: "spam", Duration: time.Hour})
	require.NoError(t, err)
	lifted, err := f.ledger.Issue(ctx, IssueInput{AccountID: modOther, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	_, err = f.ledger.Lift(ctx, lifted.ID, adminRoot)
	require.NoError(t, err)

	res, err := f.ledger.BatchLift(ctx, []int64{a.ID, -1, 0, 999, b.ID, a.ID, lifted.ID}, adminRoot)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Lifted)
	assert.Empty(t, res.Failed)
	f.requireConsistent(t)

	_, err = f.ledger.BatchLift(ctx, []int64{a.ID}, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBatchLiftContinuesPastFailingAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	b, err := f.ledger.Issue(ctx, IssueInput{AccountID: userB, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	f.repo.failAccount = userA

	res, err := f.ledger.BatchLift(ctx, []int64{a.ID, b.ID}, adminRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lifted)
	assert.Equal(t, []int64{a.ID}, res.Failed)
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userA))
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userB))

	f.repo.failAccount = 0
	res, err = f.ledger.BatchLift(ctx, []int64{a.ID, b.ID}, adminRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lifted)
	assert.Empty(t, res.Failed)
	f.requireConsistent(t)
}

func TestSweepScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam", Duration: 24 * time.Hour})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	banned, err := f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.True(t, banned, "T0+1h")
	res, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Lifted)

	f.clock.Advance(24 * time.Hour)
	res, err = f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lifted)
	assert.NotEmpty(t, res.RunID)

	banned, err = f.ledger.IsBanned(ctx, userA)
	require.NoError(t, err)
	assert.False(t, banned, "T0+25h after sweep")
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))
	f.requireConsistent(t)

	res, err = f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Lifted, "second sweep is a no-op")
	assert.Zero(t, res.Repaired)
	assert.Contains(t, f.repo.auditActions(), shared.AuditBanExpire)
}

func TestSweepRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Status flipped without a ledger record, and a ledger record without status.
	f.accounts.setStatus(userA, accounts.StatusBanned)
	f.repo.put(Record{AccountID: userB, IssuerID: adminRoot, Reason: "legacy", IssuedAt: t0, Permanent: true, State: StateActive})

	res, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Repaired)
	assert.Zero(t, res.Lifted)
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userB))
	f.requireConsistent(t)
}

func TestSweepLogsAndContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam", Duration: time.Hour})
	require.NoError(t, err)
	_, err = f.ledger.Issue(ctx, IssueInput{AccountID: userB, IssuerID: adminRoot, Reason: "spam", Duration: time.Hour})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	f.repo.failAccount = userA

	res, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Lifted)
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userB))

	f.repo.failAccount = 0
	res, err = f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lifted)
	f.requireConsistent(t)
}

func TestSweepStopsWhenContextDone(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ledger.SweepExpired(ctx)
	require.Error(t, err)
}

func TestConcurrentLiftAndSweep(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.ledger.SetSweepConcurrency(3)
		rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam", Duration: time.Minute})
		require.NoError(t, err)
		f.clock.Advance(2 * time.Minute)

		var (
			wg      sync.WaitGroup
			lifted  bool
			swept   SweepResult
			liftErr error
			sweepEr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			lifted, liftErr = f.ledger.Lift(ctx, rec.ID, adminRoot)
		}()
		go func() {
			defer wg.Done()
			swept, sweepEr = f.ledger.SweepExpired(ctx)
		}()
		wg.Wait()
		require.NoError(t, liftErr)
		require.NoError(t, sweepEr)

		transitions := swept.Lifted
		if lifted {
			transitions++
		}
		assert.Equal(t, 1, transitions, "exactly one of lift and sweep transitions the record")
		assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))
		f.requireConsistent(t)
	}
}

func TestRandomInterleavingsKeepInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	targets := []int64{userA, userB, modOther}

	var wg sync.WaitGroup
	for _, id := range targets {
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: id, IssuerID: adminRoot, Reason: "spam", Duration: time.Duration(j) * time.Minute})
				if err == nil && j%2 == 0 {
					_, _ = f.ledger.Lift(ctx, rec.ID, adminRoot)
				}
				_, _ = f.ledger.SweepExpired(ctx)
			}()
		}
	}
	wg.Wait()
	f.clock.Advance(time.Hour)
	_, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	f.requireConsistent(t)
}

func TestDeleteRequiresLiftedRecordAndAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)

	err = f.ledger.Delete(ctx, rec.ID, adminRoot)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.ledger.Lift(ctx, rec.ID, adminRoot)
	require.NoError(t, err)

	err = f.ledger.Delete(ctx, rec.ID, modOwner)
	require.ErrorIs(t, err, shared.ErrDenied)

	require.NoError(t, f.ledger.Delete(ctx, rec.ID, adminRoot))
	_, err = f.ledger.Get(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	err = f.ledger.Delete(ctx, rec.ID, adminRoot)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Contains(t, f.repo.auditActions(), shared.AuditBanDelete)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "one"})
	require.NoError(t, err)
	_, err = f.ledger.Lift(ctx, first.ID, adminRoot)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "two"})
	require.NoError(t, err)

	history, err := f.ledger.History(ctx, userA)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	current, err := f.ledger.CurrentRecord(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)

	none, err := f.ledger.CurrentRecord(ctx, userB)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.accounts.setStatus(userA, accounts.StatusBanned)

	status, err := f.ledger.Reconcile(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusActive, status)
	assert.Contains(t, f.repo.auditActions(), shared.AuditBanRepair)
}

func TestLiftAfterGlobalBanRestoresActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.accounts.setStatus(userA, accounts.StatusInactive)

	rec, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusBanned, f.accounts.status(userA))
	_, err = f.ledger.Lift(ctx, rec.ID, adminRoot)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusActive, f.accounts.status(userA))
}

func TestStorageFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.repo.failIO = errors.New("connection refused")

	_, err := f.ledger.IsBanned(context.Background(), userA)
	require.ErrorIs(t, err, shared.ErrUnavailable)
	_, err = f.ledger.Issue(context.Background(), IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.ErrorIs(t, err, shared.ErrUnavailable)
}

func TestSearchFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.Issue(ctx, IssueInput{AccountID: userA, IssuerID: adminRoot, Reason: "spam"})
	require.NoError(t, err)
	_, err = f.ledger.Issue(ctx, IssueInput{AccountID: userB, IssuerID: modOwner, Reason: "spam", BoardID: ptr(boardX)})
	require.NoError(t, err)

	items, page, err := f.ledger.Search(ctx, Filter{BoardID: ptr(boardX)})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, userB, items[0].AccountID)
	assert.Equal(t, 1, page.Total)

	_, _, err = f.ledger.Search(ctx, Filter{State: "EXPIRED"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func ptr[T any](v T) *T { return &v }
