package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/shared"
)

func TestPermitsDecisionTable(t *testing.T) {
	none := Context{}
	open := Context{BoardActive: true, TopicOpen: true}
	boardOwner := Context{IsBoardOwner: true}
	topicOwner := Context{IsTopicOwner: true}

	cases := []struct {
		name   string
		role   Role
		action Action
		ctx    Context
		want   bool
	}{
		{"admin creates board", RoleAdmin, ActionCreateBoard, none, true},
		{"admin replies on closed topic", RoleAdmin, ActionReply, none, true},
		{"admin manages foreign board", RoleAdmin, ActionManageBoard, none, true},

		{"moderator cannot create board", RoleModerator, ActionCreateBoard, open, false},
		{"moderator topic on active board", RoleModerator, ActionCreateTopic, open, true},
		{"moderator topic on inactive board", RoleModerator, ActionCreateTopic, none, false},
		{"moderator reply on open topic", RoleModerator, ActionReply, open, true},
		{"moderator reply on locked topic", RoleModerator, ActionReply, Context{BoardActive: true}, false},
		{"moderator manages own board", RoleModerator, ActionManageBoard, boardOwner, true},
		{"moderator manages foreign board", RoleModerator, ActionManageBoard, topicOwner, false},
		{"moderator manages topic on own board", RoleModerator, ActionManageTopic, boardOwner, true},
		{"moderator manages own topic elsewhere", RoleModerator, ActionManageTopic, topicOwner, true},
		{"moderator manages foreign topic", RoleModerator, ActionManageTopic, none, false},
		{"moderator bans on own board", RoleModerator, ActionIssueBan, boardOwner, true},
		{"moderator bans elsewhere", RoleModerator, ActionIssueBan, none, false},

		{"user creates board", RoleUser, ActionCreateBoard, none, true},
		{"user topic on active board", RoleUser, ActionCreateTopic, open, true},
		{"user topic on inactive board", RoleUser, ActionCreateTopic, Context{TopicOpen: true}, false},
		{"user reply on locked topic", RoleUser, ActionReply, Context{BoardActive: true}, false},
		{"user manages own topic", RoleUser, ActionManageTopic, topicOwner, true},
		{"user manages topic via board only", RoleUser, ActionManageTopic, boardOwner, false},
		{"user manages own board", RoleUser, ActionManageBoard, boardOwner, true},
		{"user manages foreign board", RoleUser, ActionManageBoard, none, false},
		{"user never bans", RoleUser, ActionIssueBan, boardOwner, false},

		{"unknown role", Role("GUEST"), ActionReply, open, false},
		{"unknown action", RoleAdmin, Action("DELETE_EVERYTHING"), open, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Permits(tc.role, tc.action, tc.ctx))
		})
	}
}

func TestTableIsExtensibleByEdit(t *testing.T) {
	table := Table{}
	for role, cells := range DefaultTable {
		table[role] = make(map[Action]Rule, len(cells))
		for action, rule := range cells {
			table[role][action] = rule
		}
	}
	table[Role("GUEST")] = map[Action]Rule{ActionReply: whenTopicOpen}

	require.True(t, table.Permits(Role("GUEST"), ActionReply, Context{TopicOpen: true}))
	require.False(t, table.Permits(Role("GUEST"), ActionCreateTopic, Context{BoardActive: true}))
	require.False(t, Permits(Role("GUEST"), ActionReply, Context{TopicOpen: true}))
}

func TestMatrixListsEveryAction(t *testing.T) {
	rows := DefaultTable.Matrix()
	require.Len(t, rows, 3)
	require.Equal(t, RoleUser, rows[0].Role)
	for _, row := range rows {
		require.Len(t, row.Rules, len(Actions))
	}
	require.Equal(t, "never", rows[1].Rules[ActionCreateBoard])
	require.Equal(t, "board_owner_or_topic_owner", rows[1].Rules[ActionManageTopic])
}

func TestParseHelpers(t *testing.T) {
	role, ok := ParseRole(" moderator ")
	require.True(t, ok)
	require.Equal(t, RoleModerator, role)

	_, ok = ParseRole("guest")
	require.False(t, ok)

	action, ok := ParseAction("reply")
	require.True(t, ok)
	require.Equal(t, ActionReply, action)
}

func TestRequireRoleMiddleware(t *testing.T) {
	mw := Middleware{}
	handler := mw.RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	anon := httptest.NewRecorder()
	handler.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, anon.Code)

	modReq := httptest.NewRequest(http.MethodGet, "/", nil)
	modReq = modReq.WithContext(shared.ContextWithActor(modReq.Context(), shared.Actor{ID: 2, Role: string(RoleModerator)}))
	mod := httptest.NewRecorder()
	handler.ServeHTTP(mod, modReq)
	require.Equal(t, http.StatusForbidden, mod.Code)

	adminReq := httptest.NewRequest(http.MethodGet, "/", nil)
	adminReq = adminReq.WithContext(shared.ContextWithActor(adminReq.Context(), shared.Actor{ID: 1, Role: string(RoleAdmin)}))
	admin := httptest.NewRecorder()
	handler.ServeHTTP(admin, adminReq)
	require.Equal(t, http.StatusNoContent, admin.Code)
}
