package bans

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// memAccounts is the identity fake. It is shared with memRepo so ledger
// transactions see and change the same statuses.
type memAccounts struct {
	mu   sync.RWMutex
	rows map[int64]accounts.Account
}

func (m *memAccounts) Get(_ context.Context, id int64) (accounts.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.rows[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
	}
	return acc, nil
}

func (m *memAccounts) status(id int64) accounts.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows[id].Status
}

func (m *memAccounts) setStatus(id int64, s accounts.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.rows[id]
	acc.Status = s
	m.rows[id] = acc
}

func (m *memAccounts) snapshot() map[int64]accounts.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]accounts.Account, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out
}

func (m *memAccounts) restore(rows map[int64]accounts.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

const (
	userA     int64 = 1
	userB     int64 = 2
	modOwner  int64 = 3
	modOther  int64 = 4
	adminRoot int64 = 9
	boardX    int64 = 100
)

func fixtureAccounts() *memAccounts {
	return &memAccounts{rows: map[int64]accounts.Account{
		userA:     {ID: userA, Username: "alice", Role: rbac.RoleUser, Status: accounts.StatusActive},
		userB:     {ID: userB, Username: "bob", Role: rbac.RoleUser, Status: accounts.StatusActive},
		modOwner:  {ID: modOwner, Username: "carol", Role: rbac.RoleModerator, Status: accounts.StatusActive},
		modOther:  {ID: modOther, Username: "dave", Role: rbac.RoleModerator, Status: accounts.StatusActive},
		adminRoot: {ID: adminRoot, Username: "root", Role: rbac.RoleAdmin, Status: accounts.StatusActive},
	}}
}

type memBoards map[int64]int64

func (m memBoards) IsBoardOwner(_ context.Context, accountID, boardID int64) (bool, error) {
	owner, ok := m[boardID]
	if !ok {
		return false, fmt.Errorf("board %d: %w", boardID, shared.ErrNotFound)
	}
	return owner == accountID, nil
}

type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]Record
	accounts *memAccounts
	audit    []shared.AuditLog
	failIO   error
	// failAccount makes transactions touching this account fail.
	failAccount int64
}

func newMemRepo(accs *memAccounts) *memRepo {
	return &memRepo{rows: make(map[int64]Record), accounts: accs}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return shared.Unavailable(m.failIO)
	}
	rows := make(map[int64]Record, len(m.rows))
	for k, v := range m.rows {
		rows[k] = v
	}
	nextID, audit, accs := m.nextID, len(m.audit), m.accounts.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.rows, m.nextID, m.audit = rows, nextID, m.audit[:audit]
		m.accounts.restore(accs)
		return err
	}
	return nil
}

func (m *memRepo) Get(_ context.Context, id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return Record{}, shared.Unavailable(m.failIO)
	}
	rec, ok := m.rows[id]
	if !ok {
		return Record{}, fmt.Errorf("ban %d: %w", id, shared.ErrNotFound)
	}
	return rec, nil
}

func (m *memRepo) ActiveForAccount(_ context.Context, accountID int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return nil, shared.Unavailable(m.failIO)
	}
	return m.filter(func(r Record) bool { return r.AccountID == accountID && r.State == StateActive }), nil
}

func (m *memRepo) History(_ context.Context, accountID int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(r Record) bool { return r.AccountID == accountID }), nil
}

func (m *memRepo) Search(_ context.Context, f Filter) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := m.filter(func(r Record) bool {
		if f.AccountID != nil && r.AccountID != *f.AccountID {
			return false
		}
		if f.BoardID != nil && (r.BoardID == nil || *r.BoardID != *f.BoardID) {
			return false
		}
		return f.State == "" || r.State == f.State
	})
	total := len(match)
	start := shared.Offset(f.Page, f.PerPage)
	_, perPage := shared.NormalizePage(f.Page, f.PerPage)
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return match[start:end], total, nil
}

func (m *memRepo) AccountsWithExpired(_ context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return nil, shared.Unavailable(m.failIO)
	}
	seen := map[int64]struct{}{}
	var ids []int64
	for _, r := range m.filter(func(r Record) bool { return r.Expired(now) }) {
		if _, ok := seen[r.AccountID]; !ok {
			seen[r.AccountID] = struct{}{}
			ids = append(ids, r.AccountID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memRepo) DriftedAccounts(_ context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, acc := range m.accounts.snapshot() {
		banned := len(m.filter(func(r Record) bool {
			return r.AccountID == id && r.Global() && r.InEffect(now)
		})) > 0
		if banned != (acc.Status == accounts.StatusBanned) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// filter returns matching rows newest first. Callers hold mu.
func (m *memRepo) filter(keep func(Record) bool) []Record {
	var out []Record
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memRepo) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audit))
	for _, a := range m.audit {
		out = append(out, a.Action)
	}
	return out
}

func (m *memRepo) put(rec Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.rows[rec.ID] = rec
	return rec
}

type memTx struct{ m *memRepo }

func (t *memTx) LockedGet(_ context.Context, id int64) (Record, error) {
	rec, ok := t.m.rows[id]
	if !ok {
		return Record{}, fmt.Errorf("ban %d: %w", id, shared.ErrNotFound)
	}
	return rec, nil
}

func (t *memTx) LockedActiveForAccount(_ context.Context, accountID int64) ([]Record, error) {
	if t.m.failAccount == accountID {
		return nil, shared.Unavailable(fmt.Errorf("account %d row locked", accountID))
	}
	return t.m.filter(func(r Record) bool { return r.AccountID == accountID && r.State == StateActive }), nil
}

func (t *memTx) Insert(_ context.Context, rec Record) (Record, error) {
	for _, r := range t.m.rows {
		if r.AccountID == rec.AccountID && r.State == StateActive && sameScope(r.BoardID, rec.BoardID) {
			return Record{}, shared.ErrAlreadyBanned
		}
	}
	t.m.nextID++
	rec.ID = t.m.nextID
	rec.State = StateActive
	t.m.rows[rec.ID] = rec
	return rec, nil
}

func (t *memTx) MarkLifted(_ context.Context, id int64, liftedBy *int64, at time.Time) (bool, error) {
	rec, ok := t.m.rows[id]
	if !ok || rec.State != StateActive {
		return false, nil
	}
	rec.State = StateLifted
	rec.LiftedBy = liftedBy
	rec.LiftedAt = &at
	t.m.rows[id] = rec
	return true, nil
}

func (t *memTx) Delete(_ context.Context, id int64) error {
	rec, ok := t.m.rows[id]
	if !ok || rec.State != StateLifted {
		return fmt.Errorf("ban %d: %w", id, shared.ErrNotFound)
	}
	delete(t.m.rows, id)
	return nil
}

func (t *memTx) AccountStatus(ctx context.Context, accountID int64) (accounts.Status, error) {
	acc, err := t.m.accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acc.Status, nil
}

func (t *memTx) SetAccountStatus(_ context.Context, accountID int64, status accounts.Status) error {
	t.m.accounts.setStatus(accountID, status)
	return nil
}

func (t *memTx) Audit(_ context.Context, entry shared.AuditLog) error {
	t.m.audit = append(t.m.audit, entry)
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
