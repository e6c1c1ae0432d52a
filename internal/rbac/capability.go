package rbac

// Rule decides one (role, action) cell of the capability table.
type Rule struct {
	Name  string
	Check func(Context) bool
}

var (
	always            = Rule{Name: "always", Check: func(Context) bool { return true }}
	never             = Rule{Name: "never", Check: func(Context) bool { return false }}
	whenBoardActive   = Rule{Name: "board_active", Check: func(c Context) bool { return c.BoardActive }}
	whenTopicOpen     = Rule{Name: "topic_open", Check: func(c Context) bool { return c.TopicOpen }}
	whenBoardOwner    = Rule{Name: "board_owner", Check: func(c Context) bool { return c.IsBoardOwner }}
	whenTopicOwner    = Rule{Name: "topic_owner", Check: func(c Context) bool { return c.IsTopicOwner }}
	whenBoardOrAuthor = Rule{Name: "board_owner_or_topic_owner", Check: func(c Context) bool { return c.IsBoardOwner || c.IsTopicOwner }}
)

// Table maps role and action to the rule granting it. Missing cells deny.
type Table map[Role]map[Action]Rule

// DefaultTable is the capability table of the forum.
//
// Admin status checks happen in the access gate, not here. Creating a board
// is how a User gets promoted to Moderator, so Moderators cannot create more.
var DefaultTable = Table{
	RoleAdmin: {
		ActionCreateBoard: always,
		ActionCreateTopic: always,
		ActionReply:       always,
		ActionManageBoard: always,
		ActionManageTopic: always,
		ActionIssueBan:    always,
	},
	RoleModerator: {
		ActionCreateBoard: never,
		ActionCreateTopic: whenBoardActive,
		ActionReply:       whenTopicOpen,
		ActionManageBoard: whenBoardOwner,
		ActionManageTopic: whenBoardOrAuthor,
		ActionIssueBan:    whenBoardOwner,
	},
	RoleUser: {
		ActionCreateBoard: always,
		ActionCreateTopic: whenBoardActive,
		ActionReply:       whenTopicOpen,
		ActionManageBoard: whenBoardOwner,
		ActionManageTopic: whenTopicOwner,
		ActionIssueBan:    never,
	},
}

// Permits reports whether role may perform action in ctx.
func (t Table) Permits(role Role, action Action, ctx Context) bool {
	rule, ok := t[role][action]
	if !ok || rule.Check == nil {
		return false
	}
	return rule.Check(ctx)
}

// Permits consults DefaultTable.
func Permits(role Role, action Action, ctx Context) bool {
	return DefaultTable.Permits(role, action, ctx)
}

// MatrixRow is one role's view of the table.
type MatrixRow struct {
	Role  Role              `json:"role"`
	Rules map[Action]string `json:"rules"`
}

// Matrix renders the table for display, roles in hierarchy order.
func (t Table) Matrix() []MatrixRow {
	rows := make([]MatrixRow, 0, len(t))
	for _, role := range []Role{RoleUser, RoleModerator, RoleAdmin} {
		cells, ok := t[role]
		if !ok {
			continue
		}
		row := MatrixRow{Role: role, Rules: make(map[Action]string, len(Actions))}
		for _, action := range Actions {
			if rule, ok := cells[action]; ok {
				row.Rules[action] = rule.Name
			} else {
				row.Rules[action] = never.Name
			}
		}
		rows = append(rows, row)
	}
	return rows
}
