package service

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/cryptox"
)

func newUserService(t *testing.T) (*UserService, store.Store, *fakeClock) {
	t.Helper()

	st := newTestStore(t)
	clock := newFakeClock()
	svc := &UserService{
		Store:     st,
		Sessions:  &SessionService{Store: st, Now: clock.Now},
		AvatarDir: t.TempDir(),
		Log:       slog.New(slog.DiscardHandler),
		Now:       clock.Now,
	}
	return svc, st, clock
}

func TestUserCRUD(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newUserService(t)

	created, err := svc.Create(ctx, CreateInput{
		Username: "newbie",
		Email:    "Newbie@Example.edu",
		Password: "T9u!rGw2pk",
		Role:     "admin",
		FullName: "New Person",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, created.Role)
	require.Equal(t, "newbie@example.edu", created.Email)
	require.Equal(t, domain.StatusPending, created.Status)

	t.Run("password required", func(t *testing.T) {
		var verr *ValidationError
		_, err := svc.Create(ctx, CreateInput{Username: "x", Email: "x@example.edu"})
		require.ErrorAs(t, err, &verr)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		var verr *ValidationError
		_, err := svc.Create(ctx, CreateInput{Username: "newbie", Email: "else@example.edu", Password: "T9u!rGw2pk"})
		require.ErrorAs(t, err, &verr)
	})

	t.Run("partial update", func(t *testing.T) {
		role := "student"
		full := "Renamed Person"
		updated, err := svc.Update(ctx, created.ID, UpdateInput{Role: &role, FullName: &full})
		require.NoError(t, err)
		require.Equal(t, domain.RoleStudent, updated.Role)
		require.Equal(t, "Renamed Person", updated.FullName)
		require.Equal(t, "newbie", updated.Username)
	})

	t.Run("admin password rotation revokes sessions", func(t *testing.T) {
		token, _, err := svc.Sessions.Issue(ctx, created.ID, testClient)
		require.NoError(t, err)

		pw := "Zq8$fmWn3v"
		_, err = svc.Update(ctx, created.ID, UpdateInput{Password: &pw})
		require.NoError(t, err)

		_, _, err = svc.Sessions.Resolve(ctx, token)
		require.ErrorIs(t, err, ErrAuthenticationRequired)

		stored, err := st.Users().GetUserByID(ctx, created.ID)
		require.NoError(t, err)
		require.NoError(t, cryptox.VerifyPassword(pw, stored.PasswordHash))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, created.ID))
		_, err := svc.Get(ctx, created.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newUserService(t)
	user := seedUser(t, st, "changer", "T9u!rGw2pk", nil)

	t.Run("wrong old password", func(t *testing.T) {
		var verr *ValidationError
		err := svc.ChangePassword(ctx, user.ID, "Wrong1!pass", "Zq8$fmWn3v")
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "Old password is incorrect.", verr.Message)
	})

	t.Run("weak replacement rejected", func(t *testing.T) {
		var verr *ValidationError
		err := svc.ChangePassword(ctx, user.ID, "T9u!rGw2pk", "short")
		require.ErrorAs(t, err, &verr)
	})

	t.Run("personal info rejected", func(t *testing.T) {
		var verr *ValidationError
		err := svc.ChangePassword(ctx, user.ID, "T9u!rGw2pk", "Changer9!xy")
		require.ErrorAs(t, err, &verr)
	})

	t.Run("reuse rejected", func(t *testing.T) {
		var verr *ValidationError
		err := svc.ChangePassword(ctx, user.ID, "T9u!rGw2pk", "T9u!rGw2pk")
		require.ErrorAs(t, err, &verr)
	})

	t.Run("success persists and revokes sessions", func(t *testing.T) {
		token, _, err := svc.Sessions.Issue(ctx, user.ID, testClient)
		require.NoError(t, err)

		require.NoError(t, svc.ChangePassword(ctx, user.ID, "T9u!rGw2pk", "Zq8$fmWn3v"))

		stored, err := st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.NoError(t, cryptox.VerifyPassword("Zq8$fmWn3v", stored.PasswordHash))
		require.NotNil(t, stored.PasswordChangedAt)

		_, _, err = svc.Sessions.Resolve(ctx, token)
		require.ErrorIs(t, err, ErrAuthenticationRequired)
	})
}

func TestAvatarLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newUserService(t)
	user := seedUser(t, st, "pic", "T9u!rGw2pk", nil)

	pixel := base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))

	t.Run("upload stores the file and the URL", func(t *testing.T) {
		updated, err := svc.UploadAvatar(ctx, user.ID, "data:image/png;base64,"+pixel)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(updated.AvatarURL, AvatarURLPrefix))

		name := strings.TrimPrefix(updated.AvatarURL, AvatarURLPrefix)
		require.True(t, strings.HasSuffix(name, ".png"))

		data, err := os.ReadFile(filepath.Join(svc.AvatarDir, name))
		require.NoError(t, err)
		require.Equal(t, "fake-image-bytes", string(data))
	})

	t.Run("jpeg header picks the extension", func(t *testing.T) {
		updated, err := svc.UploadAvatar(ctx, user.ID, "data:image/jpeg;base64,"+pixel)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(updated.AvatarURL, ".jpg"))
	})

	t.Run("bad encoding rejected", func(t *testing.T) {
		var verr *ValidationError
		_, err := svc.UploadAvatar(ctx, user.ID, "data:image/png;base64,!!!not-base64!!!")
		require.ErrorAs(t, err, &verr)
	})

	t.Run("remove clears URL and file", func(t *testing.T) {
		current, err := st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		name := strings.TrimPrefix(current.AvatarURL, AvatarURLPrefix)

		updated, err := svc.RemoveAvatar(ctx, user.ID)
		require.NoError(t, err)
		require.Empty(t, updated.AvatarURL)

		_, err = os.Stat(filepath.Join(svc.AvatarDir, name))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
