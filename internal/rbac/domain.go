package rbac

import "strings"

// Role is the account role the capability table is keyed by.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// ParseRole normalises raw role names.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Action is a named capability.
type Action string

const (
	ActionCreateBoard Action = "CREATE_BOARD"
	ActionCreateTopic Action = "CREATE_TOPIC"
	ActionReply       Action = "REPLY"
	ActionManageBoard Action = "MANAGE_BOARD"
	ActionManageTopic Action = "MANAGE_TOPIC"
	ActionIssueBan    Action = "ISSUE_BAN"
)

// Actions lists every action in display order.
var Actions = []Action{
	ActionCreateBoard,
	ActionCreateTopic,
	ActionReply,
	ActionManageBoard,
	ActionManageTopic,
	ActionIssueBan,
}

// ParseAction normalises raw action names.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Actions {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// Context carries the ownership facts a decision depends on. It is built from
// the content store by the caller; this package never reads storage.
type Context struct {
	IsBoardOwner bool
	IsTopicOwner bool
	BoardActive  bool
	TopicOpen    bool
}
