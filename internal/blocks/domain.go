package blocks

import "time"

// State is the lifecycle state of a block relation.
type State string

const (
	StateActive  State = "ACTIVE"
	StateRemoved State = "REMOVED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateActive || s == StateRemoved
}

// Relation is a directional "blocker restricts blocked" record.
type Relation struct {
	ID        int64     `json:"id"`
	BlockerID int64     `json:"blocker_id"`
	BlockedID int64     `json:"blocked_id"`
	Reason    string    `json:"reason,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows an admin search. Zero values match everything.
type Filter struct {
	BlockerID *int64
	BlockedID *int64
	State     State
	Page      int
	PerPage   int
}
