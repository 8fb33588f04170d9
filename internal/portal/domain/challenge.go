package domain

import "time"

// TwoFactorChallenge is a pending step-up verification. The emailed code is
// stored only as a SHA-256 fingerprint. At most one live challenge exists per
// user; issuing a new one supersedes any predecessor.
type TwoFactorChallenge struct {
	ID        string
	UserID    string
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResetStageToken authorizes exactly one staged password reset after a
// successful two-factor verification on an account that still needs its
// temporary password replaced.
type ResetStageToken struct {
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
