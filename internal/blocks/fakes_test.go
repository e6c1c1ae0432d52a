package blocks

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

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []Relation
	failIO error
}

func newMemRepo() *memRepo { return &memRepo{} }

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return shared.Unavailable(m.failIO)
	}
	snapshot := append([]Relation(nil), m.rows...)
	nextID := m.nextID
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.rows = snapshot
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memRepo) IsBlocked(_ context.Context, blockerID, blockedID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return false, shared.Unavailable(m.failIO)
	}
	return m.activeIndex(blockerID, blockedID) >= 0, nil
}

func (m *memRepo) ListBlockedBy(_ context.Context, blockerID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIO != nil {
		return nil, shared.Unavailable(m.failIO)
	}
	var out []int64
	for _, r := range m.rows {
		if r.BlockerID == blockerID && r.State == StateActive {
			out = append(out, r.BlockedID)
		}
	}
	return out, nil
}

func (m *memRepo) ListBlockers(_ context.Context, blockedID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, r := range m.rows {
		if r.BlockedID == blockedID && r.State == StateActive {
			out = append(out, r.BlockerID)
		}
	}
	return out, nil
}

func (m *memRepo) Search(_ context.Context, f Filter) ([]Relation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var match []Relation
	for _, r := range m.rows {
		if f.BlockerID != nil && r.BlockerID != *f.BlockerID {
			continue
		}
		if f.BlockedID != nil && r.BlockedID != *f.BlockedID {
			continue
		}
		if f.State != "" && r.State != f.State {
			continue
		}
		match = append(match, r)
	}
	sort.SliceStable(match, func(i, j int) bool { return match[i].ID > match[j].ID })
	total := len(match)
	start := shared.Offset(f.Page, f.PerPage)
	if start > total {
		start = total
	}
	_, perPage := shared.NormalizePage(f.Page, f.PerPage)
	end := start + perPage
	if end > total {
		end = total
	}
	return match[start:end], total, nil
}

func (m *memRepo) activeIndex(blockerID, blockedID int64) int {
	for i, r := range m.rows {
		if r.BlockerID == blockerID && r.BlockedID == blockedID && r.State == StateActive {
			return i
		}
	}
	return -1
}

type memTx struct{ m *memRepo }

func (t *memTx) ActiveRelation(_ context.Context, blockerID, blockedID int64) (*Relation, error) {
	if i := t.m.activeIndex(blockerID, blockedID); i >= 0 {
		rel := t.m.rows[i]
		return &rel, nil
	}
	return nil, nil
}

func (t *memTx) Insert(_ context.Context, rel Relation) (Relation, error) {
	if t.m.activeIndex(rel.BlockerID, rel.BlockedID) >= 0 {
		return Relation{}, shared.ErrAlreadyBlocked
	}
	t.m.nextID++
	rel.ID = t.m.nextID
	rel.State = StateActive
	rel.UpdatedAt = rel.CreatedAt
	t.m.rows = append(t.m.rows, rel)
	return rel, nil
}

func (t *memTx) MarkRemoved(_ context.Context, id int64, at time.Time) error {
	for i, r := range t.m.rows {
		if r.ID == id && r.State == StateActive {
			t.m.rows[i].State = StateRemoved
			t.m.rows[i].UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("block relation %d: %w", id, shared.ErrNotFound)
}

func (t *memTx) DeleteForAccount(_ context.Context, accountID int64) (int64, error) {
	kept := t.m.rows[:0]
	var n int64
	for _, r := range t.m.rows {
		if r.BlockerID == accountID || r.BlockedID == accountID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.m.rows = kept
	return n, nil
}

type memAccounts map[int64]accounts.Account

func (m memAccounts) Get(_ context.Context, id int64) (accounts.Account, error) {
	acc, ok := m[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
	}
	return acc, nil
}

func fixtureAccounts() memAccounts {
	return memAccounts{
		1: {ID: 1, Username: "alice", Role: rbac.RoleUser, Status: accounts.StatusActive},
		2: {ID: 2, Username: "bob", Role: rbac.RoleUser, Status: accounts.StatusActive},
		3: {ID: 3, Username: "carol", Role: rbac.RoleModerator, Status: accounts.StatusActive},
		9: {ID: 9, Username: "root", Role: rbac.RoleAdmin, Status: accounts.StatusActive},
	}
}

type captureAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (c *captureAudit) Record(_ context.Context, log shared.AuditLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, log)
	return nil
}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Action)
	}
	return out
}
