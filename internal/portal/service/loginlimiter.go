package service

import (
	"strings"
	"sync"
	"time"
)

// Login throttling defaults.
const (
	DefaultLoginWindow          = 5 * time.Minute
	DefaultLoginMaxFailures     = 5
	DefaultLoginLockoutDuration = 15 * time.Minute
)

// LoginLimiter tracks failed login attempts in sliding windows keyed by both
// client IP and the submitted identifier. A bucket that fills within the
// window locks every key involved in the attempt for the lockout duration,
// so rotating identifiers from one address or hitting one account from many
// addresses both trip it. A lockout, once set, holds until it elapses even
// after the triggering failures age out of the window.
type LoginLimiter struct {
	Window          time.Duration
	MaxFailures     int
	LockoutDuration time.Duration
	Now             func() time.Time

	mu       sync.Mutex
	buckets  map[string][]time.Time
	lockouts map[string]time.Time // key -> locked until
}

func NewLoginLimiter(window time.Duration, maxFailures int, lockout time.Duration) *LoginLimiter {
	if window <= 0 {
		window = DefaultLoginWindow
	}
	if maxFailures <= 0 {
		maxFailures = DefaultLoginMaxFailures
	}
	if lockout <= 0 {
		lockout = DefaultLoginLockoutDuration
	}
	return &LoginLimiter{
		Window:          window,
		MaxFailures:     maxFailures,
		LockoutDuration: lockout,
		buckets:         make(map[string][]time.Time),
		lockouts:        make(map[string]time.Time),
	}
}

func (l *LoginLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func loginKeys(ip, identifier string) []string {
	keys := make([]string, 0, 2)
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	if id := strings.ToLower(strings.TrimSpace(identifier)); id != "" {
		keys = append(keys, "id:"+id)
	}
	return keys
}

// Check reports whether a login attempt from this IP/identifier pair is
// currently locked out. Lockouts are consulted before any window math, so a
// locked key fails fast. Returns a LockedError carrying the time until the
// widest lockout elapses.
func (l *LoginLimiter) Check(ip, identifier string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var retryAfter time.Duration
	for _, key := range loginKeys(ip, identifier) {
		until, ok := l.lockouts[key]
		if !ok {
			continue
		}
		if !now.Before(until) {
			delete(l.lockouts, key)
			continue
		}
		if wait := until.Sub(now); wait > retryAfter {
			retryAfter = wait
		}
	}

	if retryAfter > 0 {
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return &LockedError{RetryAfter: retryAfter}
	}
	return nil
}

// RegisterFailure records a failed attempt against every key involved. A key
// whose bucket fills within the window locks all keys of this attempt for
// the lockout duration.
func (l *LoginLimiter) RegisterFailure(ip, identifier string) {
	now := l.now()
	keys := loginKeys(ip, identifier)

	l.mu.Lock()
	defer l.mu.Unlock()

	tripped := false
	for _, key := range keys {
		bucket := append(l.pruneLocked(key, now), now)
		l.buckets[key] = bucket
		if len(bucket) >= l.MaxFailures {
			tripped = true
		}
	}
	if !tripped {
		return
	}

	until := now.Add(l.LockoutDuration)
	for _, key := range keys {
		l.lockouts[key] = until
		delete(l.buckets, key)
	}
}

// Reset clears the failure history after a successful login. Active lockouts
// are left to run out; a locked attempt never reaches the credential check.
func (l *LoginLimiter) Reset(ip, identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range loginKeys(ip, identifier) {
		delete(l.buckets, key)
	}
}

// Sweep drops empty buckets and elapsed lockouts; called from housekeeping.
func (l *LoginLimiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.buckets {
		if len(l.pruneLocked(key, now)) == 0 {
			delete(l.buckets, key)
		}
	}
	for key, until := range l.lockouts {
		if !now.Before(until) {
			delete(l.lockouts, key)
		}
	}
}

// pruneLocked drops entries older than the window and returns the surviving
// bucket. Caller holds the mutex.
func (l *LoginLimiter) pruneLocked(key string, now time.Time) []time.Time {
	bucket := l.buckets[key]
	cutoff := now.Add(-l.Window)
	for len(bucket) > 0 && !bucket[0].After(cutoff) {
		bucket = bucket[1:]
	}
	l.buckets[key] = bucket
	return bucket
}
