package accounts

import (
	"strings"
	"time"

	"github.com/agora-forum/agora/internal/rbac"
)

// Status is the denormalised account state. BANNED mirrors the ban ledger and
// is display-only; authorization always asks the ledger.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusBanned   Status = "BANNED"
	StatusInactive Status = "INACTIVE"
)

// ParseStatus normalises raw status names.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusActive, StatusBanned, StatusInactive:
		return s, true
	}
	return "", false
}

// Account represents a forum account as seen by moderation.
type Account struct {
	ID        int64
	Username  string
	Role      rbac.Role
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the account can never be banned or blocked.
func (a Account) IsAdmin() bool {
	return a.Role == rbac.RoleAdmin
}
