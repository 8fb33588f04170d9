package domain

import "time"

// Session is a server-side login session referenced by an opaque bearer
// token. Only the token's SHA-256 fingerprint is stored. The originating
// client address and user agent are kept for the audit trail; revoked
// sessions stay on record until garbage collection rather than being
// deleted in place.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	IP        string
	UserAgent string
	IssuedAt  time.Time
	LastSeen  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the session has been explicitly invalidated.
func (s Session) Revoked() bool {
	return s.RevokedAt != nil
}

// ExpiredAt reports whether the session is unusable at the given instant,
// either past its absolute deadline or idle beyond the allowed window.
func (s Session) ExpiredAt(now time.Time, idleWindow time.Duration) bool {
	if !now.Before(s.ExpiresAt) {
		return true
	}
	if idleWindow > 0 && now.Sub(s.LastSeen) > idleWindow {
		return true
	}
	return false
}

// ShouldRotate reports whether the session is old enough that the holder
// should be advised to replace the token.
func (s Session) ShouldRotate(now time.Time, rotateAfter time.Duration) bool {
	return rotateAfter > 0 && now.Sub(s.IssuedAt) >= rotateAfter
}
