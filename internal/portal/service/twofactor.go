package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/cryptox"
)

// Step-up verification defaults.
const (
	DefaultCodeDigits    = 6
	DefaultChallengeTTL  = 10 * time.Minute
	MinChallengeTTL      = 30 * time.Second
	MaxChallengeAttempts = 5
	challengeTokenBytes  = cryptox.TokenSize256
)

// TwoFactorService issues emailed verification codes and checks them. The
// backing store can be the shared SQLite repository (multi-worker) or the
// in-process implementation below (single instance).
type TwoFactorService struct {
	Challenges store.Challenges

	TTL         time.Duration
	CodeDigits  int
	MaxAttempts int

	Now func() time.Time
}

func (s *TwoFactorService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *TwoFactorService) ttl() time.Duration {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if ttl < MinChallengeTTL {
		ttl = MinChallengeTTL
	}
	return ttl
}

func (s *TwoFactorService) codeDigits() int {
	if s.CodeDigits <= 0 {
		return DefaultCodeDigits
	}
	return s.CodeDigits
}

func (s *TwoFactorService) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return MaxChallengeAttempts
	}
	return s.MaxAttempts
}

// Issue creates a challenge for the user, superseding any live one, and
// returns the opaque challenge id plus the plaintext code. The caller
// delivers the code; it is never stored.
func (s *TwoFactorService) Issue(ctx context.Context, userID string) (string, string, error) {
	// Lazy cleanup keeps the table bounded between housekeeping runs.
	_ = s.Challenges.DeleteExpiredChallenges(ctx, s.now())

	id, err := cryptox.GenerateToken(challengeTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to mint challenge id: %w", err)
	}
	code, err := cryptox.GenerateNumericCode(s.codeDigits())
	if err != nil {
		return "", "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.now()
	challenge := domain.TwoFactorChallenge{
		ID:        id,
		UserID:    userID,
		CodeHash:  cryptox.FingerprintToken(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl()),
	}

	if err := s.Challenges.UpsertChallenge(ctx, challenge); err != nil {
		return "", "", fmt.Errorf("failed to store challenge: %w", err)
	}

	return id, code, nil
}

// Invalidate drops a challenge, e.g. when code delivery fails after issuing.
func (s *TwoFactorService) Invalidate(ctx context.Context, challengeID string) {
	_ = s.Challenges.DeleteChallenge(ctx, challengeID)
}

// TTLSeconds reports the configured challenge validity for API responses.
func (s *TwoFactorService) TTLSeconds() int {
	return int(s.ttl().Seconds())
}

// Verify checks a submitted code and returns the challenged user id on
// success. The winning verification consumes the challenge, so a concurrent
// duplicate request fails with ErrTwoFactorInvalid even with the right code.
func (s *TwoFactorService) Verify(ctx context.Context, challengeID, code string) (string, error) {
	if challengeID == "" || strings.TrimSpace(code) == "" {
		return "", ErrTwoFactorInvalid
	}

	challenge, err := s.Challenges.GetChallenge(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrTwoFactorInvalid
	}
	if err != nil {
		return "", fmt.Errorf("failed to load challenge: %w", err)
	}

	now := s.now()
	if !now.Before(challenge.ExpiresAt) {
		_ = s.Challenges.DeleteChallenge(ctx, challengeID)
		return "", ErrTwoFactorExpired
	}

	if challenge.Attempts >= s.maxAttempts() {
		_ = s.Challenges.DeleteChallenge(ctx, challengeID)
		return "", ErrTwoFactorExhausted
	}

	submitted := cryptox.FingerprintToken(strings.TrimSpace(code))
	if !cryptox.ConstantTimeEquals(submitted, challenge.CodeHash) {
		updated, err := s.Challenges.IncrementChallengeAttempts(ctx, challengeID)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTwoFactorInvalid
		}
		if err != nil {
			return "", fmt.Errorf("failed to record attempt: %w", err)
		}
		if updated.Attempts >= s.maxAttempts() {
			_ = s.Challenges.DeleteChallenge(ctx, challengeID)
			return "", ErrTwoFactorExhausted
		}
		return "", ErrTwoFactorInvalid
	}

	// Consuming the row is the single-use guarantee: the loser of a race
	// sees ErrNotFound here.
	if err := s.Challenges.DeleteChallenge(ctx, challengeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTwoFactorInvalid
		}
		return "", fmt.Errorf("failed to consume challenge: %w", err)
	}

	return challenge.UserID, nil
}

// memoryChallenges is the in-process store.Challenges implementation for
// single-instance deployments.
type memoryChallenges struct {
	mu   sync.Mutex
	byID map[string]domain.TwoFactorChallenge
}

// NewMemoryChallenges returns an in-process challenge store.
func NewMemoryChallenges() store.Challenges {
	return &memoryChallenges{byID: make(map[string]domain.TwoFactorChallenge)}
}

func (m *memoryChallenges) UpsertChallenge(_ context.Context, c domain.TwoFactorChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.byID {
		if existing.UserID == c.UserID {
			delete(m.byID, id)
		}
	}
	m.byID[c.ID] = c
	return nil
}

func (m *memoryChallenges) GetChallenge(_ context.Context, id string) (domain.TwoFactorChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return domain.TwoFactorChallenge{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memoryChallenges) IncrementChallengeAttempts(_ context.Context, id string) (domain.TwoFactorChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return domain.TwoFactorChallenge{}, store.ErrNotFound
	}
	c.Attempts++
	m.byID[id] = c
	return c, nil
}

func (m *memoryChallenges) DeleteChallenge(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memoryChallenges) DeleteUserChallenges(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.byID {
		if c.UserID == userID {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *memoryChallenges) DeleteExpiredChallenges(_ context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.byID {
		if !now.Before(c.ExpiresAt) {
			delete(m.byID, id)
		}
	}
	return nil
}
