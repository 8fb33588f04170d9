package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, RoleSuperAdmin, ParseRole("super_admin"))
	require.Equal(t, RoleSuperAdmin, ParseRole("Super-Admin"))
	require.Equal(t, RoleSuperAdmin, ParseRole("super admin"))
	require.Equal(t, RoleAdmin, ParseRole("admin"))
	require.Equal(t, RoleStudent, ParseRole("student"))
	require.Equal(t, RoleStudent, ParseRole("garbage"))
	require.Equal(t, RoleStudent, ParseRole(""))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusActive, ParseStatus("active"))
	require.Equal(t, StatusActive, ParseStatus("ACTIVE"))
	require.Equal(t, StatusPending, ParseStatus("pending"))
	require.Equal(t, StatusPending, ParseStatus("new"))
	require.Equal(t, StatusPending, ParseStatus(""))
}

func TestRequiresTwoFactor(t *testing.T) {
	t.Parallel()

	now := time.Now()
	earlier := now.Add(-time.Hour)

	t.Run("first login", func(t *testing.T) {
		t.Parallel()
		u := User{Role: RoleStudent}
		require.True(t, u.RequiresTwoFactor())
	})

	t.Run("admin always", func(t *testing.T) {
		t.Parallel()
		u := User{Role: RoleAdmin, LastLoginAt: &now, LastTwoFactorAt: &now}
		require.True(t, u.RequiresTwoFactor())
	})

	t.Run("never verified", func(t *testing.T) {
		t.Parallel()
		u := User{Role: RoleStudent, LastLoginAt: &now}
		require.True(t, u.RequiresTwoFactor())
	})

	t.Run("verified before password change", func(t *testing.T) {
		t.Parallel()
		u := User{Role: RoleStudent, LastLoginAt: &now, LastTwoFactorAt: &earlier, PasswordChangedAt: &now}
		require.True(t, u.RequiresTwoFactor())
	})

	t.Run("student in good standing", func(t *testing.T) {
		t.Parallel()
		u := User{Role: RoleStudent, LastLoginAt: &now, LastTwoFactorAt: &now, PasswordChangedAt: &earlier}
		require.False(t, u.RequiresTwoFactor())
	})
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", MaskEmail(""))
	require.Equal(t, "not-an-email", MaskEmail("not-an-email"))
	require.Equal(t, "*@example.com", MaskEmail("@example.com"))
	require.Equal(t, "j***@example.com", MaskEmail("j@example.com"))
	require.Equal(t, "j*o@example.com", MaskEmail("jo@example.com"))
	require.Equal(t, "j****e@example.com", MaskEmail("jordie@example.com"))
}
