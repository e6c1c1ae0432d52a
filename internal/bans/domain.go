// Package bans is the ledger of account bans: the single source of truth for
// who is banned, where and until when.
package bans

import "time"

// State is the lifecycle state of a ban record.
type State string

const (
	StateActive State = "ACTIVE"
	StateLifted State = "LIFTED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateActive || s == StateLifted
}

// Record is one ban. A nil BoardID means the ban applies everywhere.
type Record struct {
	ID        int64      `json:"id"`
	AccountID int64      `json:"account_id"`
	IssuerID  int64      `json:"issuer_id"`
	BoardID   *int64     `json:"board_id,omitempty"`
	Reason    string     `json:"reason"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Permanent bool       `json:"permanent"`
	State     State      `json:"state"`
	LiftedBy  *int64     `json:"lifted_by,omitempty"`
	LiftedAt  *time.Time `json:"lifted_at,omitempty"`
}

// Global reports whether the ban is not scoped to a board.
func (r Record) Global() bool {
	return r.BoardID == nil
}

// InEffect reports whether the record bans its account at now.
func (r Record) InEffect(now time.Time) bool {
	if r.State != StateActive {
		return false
	}
	return r.Permanent || (r.ExpiresAt != nil && r.ExpiresAt.After(now))
}

// Expired reports whether an ACTIVE temporary record is due for the sweep.
func (r Record) Expired(now time.Time) bool {
	return r.State == StateActive && !r.Permanent && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Covers reports whether the record applies to boardID. Global bans cover
// every board.
func (r Record) Covers(boardID int64) bool {
	return r.Global() || *r.BoardID == boardID
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IssueInput carries the arguments of Ledger.Issue. A zero Duration issues a
// permanent ban.
type IssueInput struct {
	AccountID int64
	IssuerID  int64
	Reason    string
	Duration  time.Duration
	BoardID   *int64
}

// Filter narrows an admin search. Zero values match everything.
type Filter struct {
	AccountID *int64
	BoardID   *int64
	State     State
	Page      int
	PerPage   int
}

// BatchLiftResult reports a batch lift. Failed lists ban ids left untouched
// because their account could not be processed.
type BatchLiftResult struct {
	Lifted int     `json:"lifted"`
	Failed []int64 `json:"failed,omitempty"`
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	RunID    string `json:"run_id"`
	Accounts int    `json:"accounts"`
	Lifted   int    `json:"lifted"`
	Repaired int    `json:"repaired"`
	Failed   int    `json:"failed"`
}
