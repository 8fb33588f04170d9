package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/idx"
	"github.com/youmatter/portal/pkg/passwordx"
)

// AvatarURLPrefix marks avatar URLs whose files this service manages.
const AvatarURLPrefix = "/api/static/avatars/"

// UserService covers account CRUD, password changes and avatar storage.
type UserService struct {
	Store    store.Store
	Sessions *SessionService

	// AvatarDir is where uploaded avatar images land. Empty disables uploads.
	AvatarDir string

	Log *slog.Logger
	Now func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *UserService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// List returns every account.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.Store.Users().ListUsers(ctx)
}

// Get returns one account by id.
func (s *UserService) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// CreateInput is the admin-facing account creation payload.
type CreateInput struct {
	Username  string
	Email     string
	Password  string
	Role      string
	FullName  string
	AvatarURL string
}

// Create makes an account directly with a known password, as opposed to the
// invitation flow. The account starts PENDING and goes through the step-up
// verification on first login like any other.
func (s *UserService) Create(ctx context.Context, in CreateInput) (domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" {
		return domain.User{}, Validationf("username and email are required")
	}
	if in.Password == "" {
		return domain.User{}, Validationf("Password is required")
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         domain.ParseRole(in.Role),
		Status:       domain.StatusPending,
		PasswordHash: hash,
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, Validationf("Username or email already exists")
		}
		return domain.User{}, err
	}
	return user, nil
}

// UpdateInput carries optional account mutations; nil fields stay untouched.
type UpdateInput struct {
	Username  *string
	Email     *string
	Role      *string
	Password  *string
	FullName  *string
	AvatarURL *string
}

// Update applies partial changes to an account. A password change here is an
// administrative rotation and revokes the account's sessions.
func (s *UserService) Update(ctx context.Context, userID string, in UpdateInput) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	if in.Username != nil && strings.TrimSpace(*in.Username) != "" {
		user.Username = strings.TrimSpace(*in.Username)
	}
	if in.Email != nil && strings.TrimSpace(*in.Email) != "" {
		user.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Role != nil {
		user.Role = domain.ParseRole(*in.Role)
	}
	if in.FullName != nil {
		user.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}

	if err := s.Store.Users().UpdateUserProfile(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, Validationf("Username or email already exists")
		}
		return domain.User{}, err
	}

	if in.Password != nil && *in.Password != "" {
		hash, err := cryptox.HashPassword(*in.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
		}
		if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, hash, s.now()); err != nil {
			return domain.User{}, err
		}
		if err := s.Sessions.RevokeUser(ctx, user.ID); err != nil {
			s.log().WarnContext(ctx, "failed to revoke sessions after password rotation", "user_id", user.ID, "error", err)
		}
	}

	return s.Store.Users().GetUserByID(ctx, userID)
}

// Delete removes an account. Sessions, challenges and comment authorship
// cascade per the schema.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if err := s.Store.Users().DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log().InfoContext(ctx, "user deleted", "user_id", userID)
	return nil
}

// ChangePassword verifies the old password, validates the new one against
// the strength policy and account details, rejects reuse, and persists the
// change. Other sessions of the account are revoked; the caller re-issues
// one for the current client.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return Validationf("Both old and new passwords are required.")
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := cryptox.VerifyPassword(oldPassword, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			return Validationf("Old password is incorrect.")
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}

	if reason := passwordx.Validate(newPassword, passwordx.PersonalInfo{
		FullName: user.FullName,
		Email:    user.Email,
		Username: user.Username,
	}); reason != "" {
		return &ValidationError{Message: reason}
	}

	if newPassword == oldPassword {
		return Validationf("New password must be different from the old password.")
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return err
	}

	if err := s.Sessions.RevokeUser(ctx, userID); err != nil {
		s.log().WarnContext(ctx, "failed to revoke sessions after password change", "user_id", userID, "error", err)
	}

	s.log().InfoContext(ctx, "password changed", "user_id", userID)
	return nil
}

// UploadAvatar decodes a base64 data URL, stores the image on disk and
// points the account's avatar URL at it. The previous managed file is
// removed.
func (s *UserService) UploadAvatar(ctx context.Context, userID, imageData string) (domain.User, error) {
	if s.AvatarDir == "" {
		return domain.User{}, Validationf("avatar uploads are not configured")
	}
	if strings.TrimSpace(imageData) == "" {
		return domain.User{}, Validationf("Missing image data")
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	header, encoded, found := strings.Cut(imageData, ",")
	if !found {
		header, encoded = "", imageData
	}
	binary, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.User{}, Validationf("Invalid image encoding")
	}

	filename := fmt.Sprintf("user_%s_%d.%s", user.ID, s.now().Unix(), extensionFromHeader(header))
	if err := os.MkdirAll(s.AvatarDir, 0o755); err != nil {
		return domain.User{}, fmt.Errorf("failed to prepare avatar directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.AvatarDir, filename), binary, 0o644); err != nil {
		return domain.User{}, fmt.Errorf("failed to store avatar: %w", err)
	}

	s.removeManagedAvatar(user.AvatarURL)

	user.AvatarURL = AvatarURLPrefix + filename
	if err := s.Store.Users().UpdateAvatar(ctx, user.ID, user.AvatarURL); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// RemoveAvatar clears the account's avatar, deleting the managed file when
// there is one.
func (s *UserService) RemoveAvatar(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	s.removeManagedAvatar(user.AvatarURL)

	user.AvatarURL = ""
	if err := s.Store.Users().UpdateAvatar(ctx, user.ID, ""); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// removeManagedAvatar deletes the on-disk file behind a managed avatar URL.
// External URLs (e.g. Google profile pictures) are left alone.
func (s *UserService) removeManagedAvatar(avatarURL string) {
	if s.AvatarDir == "" || !strings.HasPrefix(avatarURL, AvatarURLPrefix) {
		return
	}
	name := filepath.Base(strings.TrimPrefix(avatarURL, AvatarURLPrefix))
	if name == "." || name == "/" {
		return
	}
	if err := os.Remove(filepath.Join(s.AvatarDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log().Warn("failed to remove old avatar", "file", name, "error", err)
	}
}

func extensionFromHeader(header string) string {
	header = strings.ToLower(header)
	switch {
	case strings.Contains(header, "jpeg"), strings.Contains(header, "jpg"):
		return "jpg"
	case strings.Contains(header, "gif"):
		return "gif"
	case strings.Contains(header, "webp"):
		return "webp"
	default:
		return "png"
	}
}
