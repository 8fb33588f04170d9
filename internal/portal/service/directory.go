package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/idx"
	"github.com/youmatter/portal/pkg/mailx"
	"github.com/youmatter/portal/pkg/passwordx"
)

const (
	maxInviteNameLength = 120
	usernameBaseLength  = 60
	usernameMaxLength   = 80
)

var (
	emailPattern        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernameBasePattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// DirectoryService manages invited accounts: students and administrators
// created on someone's behalf with emailed temporary credentials.
type DirectoryService struct {
	Store    store.Store
	Sessions *SessionService
	Notifier mailx.Notifier

	LoginURL string

	Log *slog.Logger
	Now func() time.Time
}

func (s *DirectoryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *DirectoryService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// InviteResult pairs the created or refreshed account with the plaintext
// temporary password, which exists only in this response and the email.
type InviteResult struct {
	User              domain.User
	TemporaryPassword string
}

// ListStudents returns all student accounts ordered for the admin roster.
func (s *DirectoryService) ListStudents(ctx context.Context) ([]domain.User, error) {
	return s.Store.Users().ListUsersByRole(ctx, domain.RoleStudent)
}

// InviteStudent creates a PENDING student with a temporary password and
// emails the credentials. Re-inviting an email that already belongs to a
// still-pending student refreshes the invitation instead.
func (s *DirectoryService) InviteStudent(ctx context.Context, fullName, email string) (InviteResult, error) {
	name, err := normalizeInviteName(fullName, "Student name is required.")
	if err != nil {
		return InviteResult{}, err
	}
	address, err := normalizeInviteEmail(email, "Please provide a valid student email address.")
	if err != nil {
		return InviteResult{}, err
	}

	existing, err := s.Store.Users().GetUserByEmail(ctx, address)
	switch {
	case err == nil:
		if existing.Role != domain.RoleStudent {
			return InviteResult{}, Validationf("A user with this email already exists with a different role.")
		}
		if existing.Status != domain.StatusPending {
			return InviteResult{}, Validationf("This student has already registered. Please reset their password instead.")
		}
		existing.FullName = name
		return s.refreshInvite(ctx, existing, studentInviteKind)
	case errors.Is(err, store.ErrNotFound):
		// fresh invite below
	default:
		return InviteResult{}, fmt.Errorf("failed to look up invitee: %w", err)
	}

	return s.createInvite(ctx, name, address, domain.RoleStudent, studentInviteKind)
}

// UpdateStudent changes a student's name and email, refusing addresses that
// belong to someone else.
func (s *DirectoryService) UpdateStudent(ctx context.Context, studentID, fullName, email string) (domain.User, error) {
	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return domain.User{}, err
	}

	if strings.TrimSpace(fullName) == "" {
		fullName = student.FullName
		if fullName == "" {
			fullName = student.Username
		}
	}
	name, err := normalizeInviteName(fullName, "Student name is required.")
	if err != nil {
		return domain.User{}, err
	}

	if strings.TrimSpace(email) == "" {
		email = student.Email
	}
	address, err := normalizeInviteEmail(email, "Please provide a valid student email address.")
	if err != nil {
		return domain.User{}, err
	}

	conflict, err := s.Store.Users().GetUserByEmail(ctx, address)
	if err == nil && conflict.ID != student.ID {
		return domain.User{}, Validationf("Another user already uses that email address.")
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, fmt.Errorf("failed to check email conflict: %w", err)
	}

	student.FullName = name
	student.Email = address
	if err := s.Store.Users().UpdateUserProfile(ctx, student); err != nil {
		return domain.User{}, err
	}
	return student, nil
}

// ResetStudentPassword rotates a student onto a fresh temporary password,
// clears the login marker and emails the credentials. The rotation only
// commits if the email goes out.
func (s *DirectoryService) ResetStudentPassword(ctx context.Context, studentID string) (InviteResult, error) {
	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return InviteResult{}, err
	}
	return s.refreshInvite(ctx, student, studentResetKind)
}

// RemoveStudent deletes the account; sessions and comments cascade.
func (s *DirectoryService) RemoveStudent(ctx context.Context, studentID string) error {
	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if err := s.Store.Users().DeleteUser(ctx, student.ID); err != nil {
		return err
	}
	s.log().InfoContext(ctx, "student removed", "user_id", student.ID)
	return nil
}

// InviteAdmin creates or refreshes an administrator account. The role must
// be ADMIN or SUPER_ADMIN; blank defaults to ADMIN.
func (s *DirectoryService) InviteAdmin(ctx context.Context, fullName, email, role string) (InviteResult, error) {
	name, err := normalizeInviteName(fullName, "Administrator name is required.")
	if err != nil {
		return InviteResult{}, err
	}
	address, err := normalizeInviteEmail(email, "Please provide a valid administrator email address.")
	if err != nil {
		return InviteResult{}, err
	}

	roleValue := domain.RoleAdmin
	if trimmed := strings.TrimSpace(role); trimmed != "" {
		parsed := domain.ParseRole(trimmed)
		if !parsed.IsAdmin() {
			return InviteResult{}, Validationf("Role must be ADMIN or SUPER_ADMIN for administrator invitations.")
		}
		roleValue = parsed
	}

	existing, err := s.Store.Users().GetUserByEmail(ctx, address)
	switch {
	case err == nil:
		if !existing.Role.IsAdmin() {
			return InviteResult{}, Validationf("A user with this email already exists with a different role.")
		}
		existing.FullName = name
		existing.Role = roleValue
		return s.refreshInvite(ctx, existing, adminResetKind)
	case errors.Is(err, store.ErrNotFound):
		// fresh invite below
	default:
		return InviteResult{}, fmt.Errorf("failed to look up invitee: %w", err)
	}

	return s.createInvite(ctx, name, address, roleValue, adminInviteKind)
}

// createInvite provisions a new PENDING account inside a transaction and
// sends the credentials; an email failure rolls the account back.
func (s *DirectoryService) createInvite(ctx context.Context, name, email string, role domain.Role, kind credentialKind) (InviteResult, error) {
	temporary, err := passwordx.Generate(temporaryPasswordLength)
	if err != nil {
		return InviteResult{}, fmt.Errorf("failed to generate temporary password: %w", err)
	}
	hash, err := cryptox.HashPassword(temporary)
	if err != nil {
		return InviteResult{}, fmt.Errorf("failed to hash temporary password: %w", err)
	}

	fallback := "student"
	if role.IsAdmin() {
		fallback = "admin"
	}
	username, err := s.uniqueInviteUsername(ctx, name, email, fallback)
	if err != nil {
		return InviteResult{}, err
	}

	now := s.now()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        email,
		FullName:     name,
		Role:         role,
		Status:       domain.StatusPending,
		PasswordHash: hash,
		InvitedAt:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return Validationf("A user with this name or email already exists.")
			}
			return err
		}
		if err := s.Notifier.Send(ctx, credentialsEmail(name, email, temporary, s.LoginURL, kind)); err != nil {
			s.log().ErrorContext(ctx, "failed to send invitation", "email_to", email, "error", err)
			return ErrNotificationFailed
		}
		return nil
	})
	if err != nil {
		return InviteResult{}, err
	}

	s.log().InfoContext(ctx, "account invited", "user_id", user.ID, "role", string(role))
	return InviteResult{User: user, TemporaryPassword: temporary}, nil
}

// refreshInvite re-issues credentials for an existing account: new temporary
// password, PENDING status, cleared login marker, fresh invited-at stamp.
func (s *DirectoryService) refreshInvite(ctx context.Context, user domain.User, kind credentialKind) (InviteResult, error) {
	temporary, err := passwordx.Generate(temporaryPasswordLength)
	if err != nil {
		return InviteResult{}, fmt.Errorf("failed to generate temporary password: %w", err)
	}
	hash, err := cryptox.HashPassword(temporary)
	if err != nil {
		return InviteResult{}, fmt.Errorf("failed to hash temporary password: %w", err)
	}

	now := s.now()
	user.Status = domain.StatusPending
	user.InvitedAt = &now
	user.PasswordHash = hash

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateUserProfile(ctx, user); err != nil {
			return err
		}
		if err := tx.Users().UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
			return err
		}
		if err := tx.Users().ClearLastLogin(ctx, user.ID); err != nil {
			return err
		}
		if err := s.Notifier.Send(ctx, credentialsEmail(displayName(user), user.Email, temporary, s.LoginURL, kind)); err != nil {
			s.log().ErrorContext(ctx, "failed to send credentials", "user_id", user.ID, "error", err)
			return ErrNotificationFailed
		}
		return nil
	})
	if err != nil {
		return InviteResult{}, err
	}

	// The old password no longer opens anything.
	if err := s.Sessions.RevokeUser(ctx, user.ID); err != nil {
		s.log().WarnContext(ctx, "failed to revoke sessions after credential reset", "user_id", user.ID, "error", err)
	}

	user.LastLoginAt = nil
	s.log().InfoContext(ctx, "credentials re-issued", "user_id", user.ID)
	return InviteResult{User: user, TemporaryPassword: temporary}, nil
}

func (s *DirectoryService) getStudent(ctx context.Context, studentID string) (domain.User, error) {
	student, err := s.Store.Users().GetUserByID(ctx, studentID)
	if err != nil {
		return domain.User{}, err
	}
	if student.Role != domain.RoleStudent {
		return domain.User{}, store.ErrNotFound
	}
	return student, nil
}

// uniqueInviteUsername derives a username from the invitee's name, falling
// back to the email local part, then appends a numeric suffix until free.
func (s *DirectoryService) uniqueInviteUsername(ctx context.Context, fullName, email, fallback string) (string, error) {
	base := usernameBasePattern.ReplaceAllString(strings.ToLower(fullName), "")
	if base == "" {
		local, _, _ := strings.Cut(email, "@")
		base = usernameBasePattern.ReplaceAllString(strings.ToLower(local), "")
	}
	if base == "" {
		base = fallback
	}
	if len(base) > usernameBaseLength {
		base = base[:usernameBaseLength]
	}

	candidate := base
	for suffix := 2; ; suffix++ {
		_, err := s.Store.Users().GetUserByUsername(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		candidate = base + strconv.Itoa(suffix)
		if len(candidate) > usernameMaxLength {
			digits := len(strconv.Itoa(suffix))
			candidate = base[:usernameMaxLength-digits] + strconv.Itoa(suffix)
		}
	}
}

func normalizeInviteName(name, requiredMsg string) (string, error) {
	value := strings.TrimSpace(name)
	if value == "" {
		return "", &ValidationError{Message: requiredMsg}
	}
	if len(value) > maxInviteNameLength {
		return "", Validationf("Name must be %d characters or fewer.", maxInviteNameLength)
	}
	return value, nil
}

func normalizeInviteEmail(email, invalidMsg string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(email))
	if value == "" || !emailPattern.MatchString(value) {
		return "", &ValidationError{Message: invalidMsg}
	}
	return value, nil
}
