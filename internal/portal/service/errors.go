package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers every login failure that must not leak
	// which part of the credentials was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAuthenticationRequired reports a missing, expired or revoked session.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrForbidden reports a valid session without the required role.
	ErrForbidden = errors.New("forbidden")

	ErrTwoFactorExpired   = errors.New("verification code expired")
	ErrTwoFactorExhausted = errors.New("too many incorrect attempts")
	ErrTwoFactorInvalid   = errors.New("invalid verification code")

	ErrResetTokenInvalid = errors.New("invalid reset token")
	ErrResetTokenExpired = errors.New("reset token expired")

	ErrDuplicateSubmission = errors.New("duplicate submission")

	ErrNotificationFailed = errors.New("notification delivery failed")
)

// RateLimitedError reports that a request was throttled and when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

// LockedError reports a login lockout after repeated failures.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("temporarily locked, retry in %s", e.RetryAfter)
}

// SuspiciousContentError names the fields that matched an injection signature.
type SuspiciousContentError struct {
	Fields []string
}

func (e *SuspiciousContentError) Error() string {
	return "suspicious content in: " + strings.Join(e.Fields, ", ")
}

// ValidationError carries a user-facing message for a rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
