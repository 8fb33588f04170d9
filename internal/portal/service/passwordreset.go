package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/pkg/cryptox"
)

// DefaultResetStageTTL bounds how long a staged password reset stays valid
// after the two-factor step.
const DefaultResetStageTTL = 10 * time.Minute

// PasswordResetService stages one-shot reset authorizations between a
// successful step-up verification and the actual password change. Tokens are
// process-local: a restart invalidates them, which only forces the user back
// through login.
type PasswordResetService struct {
	TTL time.Duration
	Now func() time.Time

	mu     sync.Mutex
	byHash map[string]domain.ResetStageToken
	byUser map[string]string // user id -> token hash
}

func NewPasswordResetService(ttl time.Duration) *PasswordResetService {
	if ttl <= 0 {
		ttl = DefaultResetStageTTL
	}
	return &PasswordResetService{
		TTL:    ttl,
		byHash: make(map[string]domain.ResetStageToken),
		byUser: make(map[string]string),
	}
}

func (s *PasswordResetService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// TTLSeconds reports the stage token validity for API responses.
func (s *PasswordResetService) TTLSeconds() int {
	return int(s.TTL.Seconds())
}

// Stage mints a reset token for the user, replacing any outstanding one, and
// returns the plaintext token.
func (s *PasswordResetService) Stage(userID string) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("failed to mint reset token: %w", err)
	}

	now := s.now()
	hash := cryptox.FingerprintToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)
	if old, ok := s.byUser[userID]; ok {
		delete(s.byHash, old)
	}
	s.byHash[hash] = domain.ResetStageToken{
		TokenHash: hash,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.TTL),
	}
	s.byUser[userID] = hash

	return token, nil
}

// Consume validates a reset token and removes it, returning the user id it
// was staged for. Each token authorizes exactly one reset.
func (s *PasswordResetService) Consume(token string) (string, error) {
	if token == "" {
		return "", ErrResetTokenInvalid
	}

	hash := cryptox.FingerprintToken(token)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	staged, ok := s.byHash[hash]
	if !ok {
		return "", ErrResetTokenInvalid
	}

	delete(s.byHash, hash)
	delete(s.byUser, staged.UserID)

	if !now.Before(staged.ExpiresAt) {
		return "", ErrResetTokenExpired
	}
	return staged.UserID, nil
}

// InvalidateUser drops any staged token for the user, e.g. after an admin
// resets the account out of band.
func (s *PasswordResetService) InvalidateUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hash, ok := s.byUser[userID]; ok {
		delete(s.byHash, hash)
		delete(s.byUser, userID)
	}
}

// Sweep removes expired stage tokens; called from housekeeping.
func (s *PasswordResetService) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
}

func (s *PasswordResetService) sweepLocked(now time.Time) {
	for hash, staged := range s.byHash {
		if !now.Before(staged.ExpiresAt) {
			delete(s.byHash, hash)
			delete(s.byUser, staged.UserID)
		}
	}
}
