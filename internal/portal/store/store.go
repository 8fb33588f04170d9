package store

import (
	"context"
	"errors"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	Users() Users
	Sessions() Sessions
	Challenges() Challenges
	Complaints() Complaints

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn returns
	// an error and committing otherwise. Preferred over Tx for most callers.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByIdentifier resolves a login identifier as username first and
	// email second.
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	ListUsers(ctx context.Context) ([]domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)

	// UpdateUserProfile mutates username, email, full name, role, status and
	// avatar, and bumps updated_at.
	UpdateUserProfile(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password hash and password_changed_at.
	UpdatePasswordHash(ctx context.Context, userID, newHash string, changedAt time.Time) error

	// ClearLastLogin unsets last_login_at, forcing the step-up verification
	// and staged reset path on the next login.
	ClearLastLogin(ctx context.Context, userID string) error

	// FinalizeLogin marks the account ACTIVE and stamps last_login_at.
	FinalizeLogin(ctx context.Context, userID string, at time.Time) error

	// MarkTwoFactorVerified stamps last_two_factor_at.
	MarkTwoFactorVerified(ctx context.Context, userID string, at time.Time) error

	UpdateAvatar(ctx context.Context, userID, avatarURL string) error

	// DeleteUser cascades to sessions, challenges and comments (per schema).
	DeleteUser(ctx context.Context, userID string) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns a session by the SHA-256 fingerprint of
	// its bearer token.
	GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error)

	// TouchSession advances last_seen for the sliding idle window.
	TouchSession(ctx context.Context, id string, lastSeen time.Time) error

	// RevokeSessionByTokenHash stamps revoked_at on a live session, keeping
	// the row for the audit trail. Returns ErrNotFound when no live session
	// matched.
	RevokeSessionByTokenHash(ctx context.Context, hash string, at time.Time) error

	// RevokeUserSessions revokes every live session of a user (password
	// change, account removal).
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) error

	// DeleteExpiredSessions garbage-collects sessions past their absolute
	// deadline, revoked rows included once their deadline passes.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// Challenges stores pending step-up verifications. The in-process map
// implementation in the service package satisfies the same contract for
// single-instance deployments.
type Challenges interface {
	// UpsertChallenge stores a challenge, replacing any live challenge for
	// the same user (at most one per user).
	UpsertChallenge(ctx context.Context, c domain.TwoFactorChallenge) error

	GetChallenge(ctx context.Context, id string) (domain.TwoFactorChallenge, error)

	// IncrementChallengeAttempts bumps the attempt counter atomically and
	// returns the updated challenge.
	IncrementChallengeAttempts(ctx context.Context, id string) (domain.TwoFactorChallenge, error)

	// DeleteChallenge consumes a challenge. Returns ErrNotFound when the
	// challenge was already consumed, which makes verification single-use
	// under concurrent requests.
	DeleteChallenge(ctx context.Context, id string) error

	DeleteUserChallenges(ctx context.Context, userID string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

type Complaints interface {
	CreateComplaint(ctx context.Context, c domain.Complaint) error

	// LastReferenceCode returns the most recently issued reference code, or
	// "" when no complaints exist.
	LastReferenceCode(ctx context.Context) (string, error)

	GetComplaintByID(ctx context.Context, id string) (domain.Complaint, error)
	GetComplaintByReference(ctx context.Context, ref string) (domain.Complaint, error)

	ListComplaints(ctx context.Context) ([]domain.Complaint, error)
	ListComplaintsByUser(ctx context.Context, userID string) ([]domain.Complaint, error)

	UpdateComplaintStatus(ctx context.Context, id string, status domain.ComplaintStatus, at time.Time) error

	AddComment(ctx context.Context, cm domain.ComplaintComment) error
	ListComments(ctx context.Context, complaintID string) ([]domain.ComplaintComment, error)
}
