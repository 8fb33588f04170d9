package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/idx"
)

// Session lifetime defaults. All overridable via config.
const (
	DefaultSessionTTL        = 12 * time.Hour
	DefaultSessionIdleWindow = 2 * time.Hour
	DefaultSessionRotate     = 6 * time.Hour
	MinSessionTokenBytes     = 32
	DefaultSessionTokenBytes = cryptox.TokenSize384
)

// Client identifies the request origin recorded on issued sessions.
type Client struct {
	IP        string
	UserAgent string
}

// SessionService issues and resolves opaque bearer sessions. Tokens are
// random, returned to the caller exactly once, and stored only as SHA-256
// fingerprints. Dead sessions are marked revoked rather than deleted, so
// the record survives for auditing until housekeeping collects it.
type SessionService struct {
	Store store.Store

	TokenBytes  int
	TTL         time.Duration
	IdleWindow  time.Duration
	RotateAfter time.Duration

	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *SessionService) tokenBytes() int {
	if s.TokenBytes < MinSessionTokenBytes {
		return DefaultSessionTokenBytes
	}
	return s.TokenBytes
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultSessionTTL
	}
	return s.TTL
}

func (s *SessionService) idleWindow() time.Duration {
	if s.IdleWindow <= 0 {
		return DefaultSessionIdleWindow
	}
	return s.IdleWindow
}

func (s *SessionService) rotateAfter() time.Duration {
	if s.RotateAfter <= 0 {
		return DefaultSessionRotate
	}
	return s.RotateAfter
}

// Issue creates a session for the user and returns the plaintext bearer
// token. The token is not recoverable afterwards.
func (s *SessionService) Issue(ctx context.Context, userID string, client Client) (string, domain.Session, error) {
	token, err := cryptox.GenerateToken(s.tokenBytes())
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("failed to mint session token: %w", err)
	}

	now := s.now()
	sess := domain.Session{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(token),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		IssuedAt:  now,
		LastSeen:  now,
		ExpiresAt: now.Add(s.ttl()),
	}

	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return "", domain.Session{}, fmt.Errorf("failed to persist session: %w", err)
	}

	return token, sess, nil
}

// Resolve validates a bearer token and slides the idle window forward. The
// second return value advises the caller to rotate the token. Revoked,
// expired and unknown tokens all return ErrAuthenticationRequired; a
// session caught past its idle window is marked revoked on the spot.
func (s *SessionService) Resolve(ctx context.Context, token string) (domain.Session, bool, error) {
	if token == "" {
		return domain.Session{}, false, ErrAuthenticationRequired
	}

	hash := cryptox.FingerprintToken(token)
	sess, err := s.Store.Sessions().GetSessionByTokenHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, false, ErrAuthenticationRequired
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.Revoked() {
		return domain.Session{}, false, ErrAuthenticationRequired
	}

	now := s.now()
	if sess.ExpiredAt(now, s.idleWindow()) {
		// Expired rows stay behind for the audit trail; housekeeping
		// collects them after the absolute deadline.
		if err := s.Store.Sessions().RevokeSessionByTokenHash(ctx, hash, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, false, fmt.Errorf("failed to revoke idle session: %w", err)
		}
		return domain.Session{}, false, ErrAuthenticationRequired
	}

	if err := s.Store.Sessions().TouchSession(ctx, sess.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, false, fmt.Errorf("failed to touch session: %w", err)
	}
	sess.LastSeen = now

	return sess, sess.ShouldRotate(now, s.rotateAfter()), nil
}

// Rotate exchanges a valid token for a fresh one, revoking the old session.
// The replacement inherits the original client attribution.
func (s *SessionService) Rotate(ctx context.Context, token string) (string, domain.Session, error) {
	sess, _, err := s.Resolve(ctx, token)
	if err != nil {
		return "", domain.Session{}, err
	}

	if err := s.Store.Sessions().RevokeSessionByTokenHash(ctx, cryptox.FingerprintToken(token), s.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", domain.Session{}, fmt.Errorf("failed to revoke session: %w", err)
	}

	return s.Issue(ctx, sess.UserID, Client{IP: sess.IP, UserAgent: sess.UserAgent})
}

// Revoke marks the session for a bearer token revoked. Revoking an unknown
// or already-revoked token is not an error; logout is idempotent.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	err := s.Store.Sessions().RevokeSessionByTokenHash(ctx, cryptox.FingerprintToken(token), s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// RevokeUser marks every live session belonging to a user revoked.
func (s *SessionService) RevokeUser(ctx context.Context, userID string) error {
	return s.Store.Sessions().RevokeUserSessions(ctx, userID, s.now())
}
