package accounts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/rbac"
)

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" banned")
	require.True(t, ok)
	require.Equal(t, StatusBanned, s)

	_, ok = ParseStatus("deleted")
	require.False(t, ok)
}

func TestIsAdmin(t *testing.T) {
	require.True(t, Account{Role: rbac.RoleAdmin}.IsAdmin())
	require.False(t, Account{Role: rbac.RoleModerator}.IsAdmin())
}
