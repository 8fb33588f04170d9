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
	"github.com/youmatter/portal/pkg/googleid"
	"github.com/youmatter/portal/pkg/idx"
	"github.com/youmatter/portal/pkg/mailx"
	"github.com/youmatter/portal/pkg/passwordx"
)

// ErrGoogleUnavailable reports that Google Sign-In is not configured.
var ErrGoogleUnavailable = errors.New("google sign-in is not available")

const temporaryPasswordLength = 12

var usernameSanitizePattern = regexp.MustCompile(`[^a-z0-9._-]`)

// LoginResult is the outcome of a credential check: either a granted session
// or a pending step-up challenge the caller must complete first.
type LoginResult struct {
	// Set when a session was issued.
	Token   string
	Session domain.Session
	User    domain.User

	// Set when step-up verification is pending.
	RequiresTwoFactor     bool
	ChallengeID           string
	MaskedEmail           string
	ExpiresIn             int
	RequiresPasswordReset bool
}

// TwoFactorResult is the outcome of a code verification: a granted session,
// or a staged password reset that must happen before the session is issued.
type TwoFactorResult struct {
	Token   string
	Session domain.Session
	User    domain.User

	RequiresPasswordReset bool
	ResetToken            string
	ExpiresIn             int
	MaskedEmail           string
}

// AuthService orchestrates the sign-in flows: password login with lockout,
// emailed step-up codes, the staged first-login password reset, Google
// Sign-In and forgot-password recovery.
type AuthService struct {
	Store     store.Store
	Sessions  *SessionService
	TwoFactor *TwoFactorService
	Resets    *PasswordResetService
	Limiter   *LoginLimiter
	Notifier  mailx.Notifier
	Google    googleid.Verifier

	// LoginURL, when set, is embedded in outgoing emails.
	LoginURL string

	Log *slog.Logger
	Now func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *AuthService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Login checks credentials and either issues a session or opens a step-up
// challenge, emailing the verification code. Failures are indistinguishable
// between unknown identifier and wrong password, and both count towards the
// lockout window.
func (s *AuthService) Login(ctx context.Context, client Client, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, Validationf("missing credentials")
	}

	if err := s.Limiter.Check(client.IP, identifier); err != nil {
		return LoginResult{}, err
	}

	user, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		s.Limiter.RegisterFailure(client.IP, identifier)
		s.log().InfoContext(ctx, "login failed: unknown identifier", "ip", client.IP)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			s.Limiter.RegisterFailure(client.IP, identifier)
			s.log().InfoContext(ctx, "login failed: bad password", "user_id", user.ID, "ip", client.IP)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("failed to verify password: %w", err)
	}

	s.Limiter.Reset(client.IP, identifier)

	if user.RequiresTwoFactor() {
		challengeID, code, err := s.TwoFactor.Issue(ctx, user.ID)
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to open challenge: %w", err)
		}

		msg := verificationCodeEmail(user, code, s.LoginURL)
		if err := s.Notifier.Send(ctx, msg); err != nil {
			s.TwoFactor.Invalidate(ctx, challengeID)
			s.log().ErrorContext(ctx, "failed to send verification code", "user_id", user.ID, "error", err)
			return LoginResult{}, ErrNotificationFailed
		}

		s.log().InfoContext(ctx, "step-up verification required", "user_id", user.ID, "ip", client.IP)
		return LoginResult{
			RequiresTwoFactor:     true,
			ChallengeID:           challengeID,
			MaskedEmail:           domain.MaskEmail(user.Email),
			ExpiresIn:             s.TwoFactor.TTLSeconds(),
			RequiresPasswordReset: user.LastLoginAt == nil,
		}, nil
	}

	token, sess, updated, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return LoginResult{}, err
	}

	s.log().InfoContext(ctx, "login successful", "user_id", user.ID, "ip", client.IP)
	return LoginResult{Token: token, Session: sess, User: updated}, nil
}

// VerifyTwoFactor checks a step-up code. When the account still carries a
// temporary password (no login recorded yet) and no replacement password was
// supplied, it stages a one-shot reset token instead of issuing a session.
// newPassword is optional; when present it is applied as part of the same
// verification.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, client Client, challengeID, code, newPassword string) (TwoFactorResult, error) {
	userID, err := s.TwoFactor.Verify(ctx, challengeID, code)
	if err != nil {
		return TwoFactorResult{}, err
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return TwoFactorResult{}, fmt.Errorf("failed to load challenged user: %w", err)
	}

	if err := s.Store.Users().MarkTwoFactorVerified(ctx, user.ID, s.now()); err != nil {
		return TwoFactorResult{}, fmt.Errorf("failed to record verification: %w", err)
	}

	mustReset := user.LastLoginAt == nil

	if newPassword != "" {
		if err := s.applyNewPassword(ctx, &user, newPassword); err != nil {
			return TwoFactorResult{}, err
		}
		mustReset = false
	}

	if mustReset {
		resetToken, err := s.Resets.Stage(user.ID)
		if err != nil {
			return TwoFactorResult{}, err
		}
		s.log().InfoContext(ctx, "code verified, awaiting password reset", "user_id", user.ID, "ip", client.IP)
		return TwoFactorResult{
			RequiresPasswordReset: true,
			ResetToken:            resetToken,
			ExpiresIn:             s.Resets.TTLSeconds(),
			MaskedEmail:           domain.MaskEmail(user.Email),
			User:                  user,
		}, nil
	}

	token, sess, updated, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return TwoFactorResult{}, err
	}

	s.log().InfoContext(ctx, "step-up verification successful", "user_id", user.ID, "ip", client.IP)
	return TwoFactorResult{Token: token, Session: sess, User: updated}, nil
}

// CompleteReset consumes a staged reset token, applies the new password and
// finishes the interrupted login with a fresh session.
func (s *AuthService) CompleteReset(ctx context.Context, client Client, resetToken, newPassword string) (TwoFactorResult, error) {
	userID, err := s.Resets.Consume(resetToken)
	if err != nil {
		return TwoFactorResult{}, err
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return TwoFactorResult{}, ErrResetTokenInvalid
	}
	if err != nil {
		return TwoFactorResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	if newPassword == "" {
		return TwoFactorResult{}, Validationf("New password is required.")
	}
	if err := s.applyNewPassword(ctx, &user, newPassword); err != nil {
		return TwoFactorResult{}, err
	}

	token, sess, updated, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return TwoFactorResult{}, err
	}

	s.log().InfoContext(ctx, "password reset completed", "user_id", user.ID, "ip", client.IP)
	return TwoFactorResult{Token: token, Session: sess, User: updated}, nil
}

// GoogleSignIn verifies a Google ID token and signs the matching account in,
// provisioning a student account on first contact. Accounts created this way
// skip the temporary-password reset flow; the identity is already verified by
// Google.
func (s *AuthService) GoogleSignIn(ctx context.Context, client Client, idToken string) (LoginResult, error) {
	if s.Google == nil {
		return LoginResult{}, ErrGoogleUnavailable
	}
	if strings.TrimSpace(idToken) == "" {
		return LoginResult{}, Validationf("missing Google token")
	}

	identity, err := s.Google.Verify(ctx, idToken)
	if err != nil {
		s.log().WarnContext(ctx, "invalid google id token", "ip", client.IP, "error", err)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !identity.EmailVerified {
		return LoginResult{}, ErrForbidden
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		user, err = s.provisionGoogleUser(ctx, identity)
		if err != nil {
			return LoginResult{}, err
		}
	case err != nil:
		return LoginResult{}, fmt.Errorf("failed to look up user: %w", err)
	default:
		if err := s.refreshGoogleProfile(ctx, &user, identity); err != nil {
			return LoginResult{}, err
		}
	}

	token, sess, updated, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return LoginResult{}, err
	}

	s.log().InfoContext(ctx, "google sign-in successful", "user_id", updated.ID, "ip", client.IP)
	return LoginResult{Token: token, Session: sess, User: updated}, nil
}

// ForgotPassword rotates the account password to a generated temporary one,
// clears the login marker so the next sign-in goes through verification, and
// emails the credentials. The rotation only commits if the email goes out.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return Validationf("Email is required.")
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	temporary, err := passwordx.Generate(temporaryPasswordLength)
	if err != nil {
		return fmt.Errorf("failed to generate temporary password: %w", err)
	}
	hash, err := cryptox.HashPassword(temporary)
	if err != nil {
		return fmt.Errorf("failed to hash temporary password: %w", err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
			return err
		}
		if err := tx.Users().ClearLastLogin(ctx, user.ID); err != nil {
			return err
		}
		// Sending inside the transaction keeps the rotation atomic with
		// delivery: an email failure rolls the password back.
		user.PasswordHash = hash
		if err := s.Notifier.Send(ctx, temporaryPasswordEmail(user, temporary, s.LoginURL)); err != nil {
			s.log().ErrorContext(ctx, "failed to send temporary password", "user_id", user.ID, "error", err)
			return ErrNotificationFailed
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Outstanding sessions and staged resets die with the old password.
	s.Resets.InvalidateUser(user.ID)
	if err := s.Sessions.RevokeUser(ctx, user.ID); err != nil {
		s.log().WarnContext(ctx, "failed to revoke sessions after reset", "user_id", user.ID, "error", err)
	}

	s.log().InfoContext(ctx, "temporary password issued", "user_id", user.ID)
	return nil
}

// Logout revokes the bearer session. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.Sessions.Revoke(ctx, token)
}

// finalizeLogin activates the account, stamps last_login_at and issues a
// session, returning the refreshed user.
func (s *AuthService) finalizeLogin(ctx context.Context, user domain.User, client Client) (string, domain.Session, domain.User, error) {
	if err := s.Store.Users().FinalizeLogin(ctx, user.ID, s.now()); err != nil {
		return "", domain.Session{}, domain.User{}, fmt.Errorf("failed to finalize login: %w", err)
	}

	updated, err := s.Store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return "", domain.Session{}, domain.User{}, fmt.Errorf("failed to reload user: %w", err)
	}

	token, sess, err := s.Sessions.Issue(ctx, updated.ID, client)
	if err != nil {
		return "", domain.Session{}, domain.User{}, err
	}
	return token, sess, updated, nil
}

// applyNewPassword validates and persists a replacement password, rejecting
// reuse of the current one. Mutates the password hash on the passed user.
func (s *AuthService) applyNewPassword(ctx context.Context, user *domain.User, newPassword string) error {
	if reason := passwordx.Validate(newPassword, passwordx.PersonalInfo{
		FullName: user.FullName,
		Email:    user.Email,
		Username: user.Username,
	}); reason != "" {
		return &ValidationError{Message: reason}
	}

	if err := cryptox.VerifyPassword(newPassword, user.PasswordHash); err == nil {
		return Validationf("New password must be different from the temporary password.")
	} else if !errors.Is(err, cryptox.ErrMismatch) {
		return fmt.Errorf("failed to compare passwords: %w", err)
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, hash, s.now()); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}
	user.PasswordHash = hash
	return nil
}

// provisionGoogleUser creates a student account for a verified Google
// identity, deriving a unique username from the email local part.
func (s *AuthService) provisionGoogleUser(ctx context.Context, identity googleid.Identity) (domain.User, error) {
	base := identity.Email
	if at := strings.Index(base, "@"); at >= 0 {
		base = base[:at]
	}
	if base == "" && len(identity.Subject) >= 8 {
		base = "user_" + identity.Subject[:8]
	}
	username, err := s.uniqueUsername(ctx, sanitizeUsername(base))
	if err != nil {
		return domain.User{}, err
	}

	// Google owns the credential; the local password is an unguessable
	// placeholder so the account cannot be entered with an empty one.
	placeholder, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to generate placeholder password: %w", err)
	}
	hash, err := cryptox.HashPassword(placeholder)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash placeholder password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        identity.Email,
		FullName:     identity.Name,
		Role:         domain.RoleStudent,
		Status:       domain.StatusActive,
		PasswordHash: hash,
		AvatarURL:    identity.Picture,
		InvitedAt:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("failed to provision user: %w", err)
	}

	s.log().InfoContext(ctx, "provisioned account via google sign-in", "user_id", user.ID, "username", username)
	return user, nil
}

// refreshGoogleProfile copies fresher name and picture details from the
// Google identity onto an existing account.
func (s *AuthService) refreshGoogleProfile(ctx context.Context, user *domain.User, identity googleid.Identity) error {
	changed := false
	if identity.Name != "" && user.FullName != identity.Name {
		user.FullName = identity.Name
		changed = true
	}
	if identity.Picture != "" && user.AvatarURL != identity.Picture {
		user.AvatarURL = identity.Picture
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.Store.Users().UpdateUserProfile(ctx, *user); err != nil {
		return fmt.Errorf("failed to refresh profile: %w", err)
	}
	return nil
}

// uniqueUsername appends a numeric suffix until the candidate is free.
func (s *AuthService) uniqueUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for suffix := 1; ; suffix++ {
		_, err := s.Store.Users().GetUserByUsername(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		candidate = base + strconv.Itoa(suffix)
	}
}

// sanitizeUsername lowercases and strips characters outside [a-z0-9._-],
// then trims leading and trailing separators. Empty results fall back to
// "user".
func sanitizeUsername(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = usernameSanitizePattern.ReplaceAllString(value, "")
	value = strings.Trim(value, "._-")
	if value == "" {
		return "user"
	}
	return value
}
