package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
)

// Complaint abuse-guard defaults.
const (
	DefaultComplaintWindow      = time.Minute
	DefaultComplaintMaxRequests = 5
	DefaultDuplicateWindow      = 30 * time.Minute
)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)document\.cookie`),
	regexp.MustCompile(`(?i)window\.location`),
}

// ComplaintInput is the submission payload after JSON decoding, shared by the
// guard and the complaint service.
type ComplaintInput struct {
	UserID       string
	StudentName  string
	Anonymous    bool
	IncidentType string
	Description  string
	RoomNumber   string
	IncidentDate string
	Witnesses    string
	Notes        string
	Attachments  []domain.Attachment
}

// ComplaintGuard layers the three abuse controls in front of complaint
// creation: a sliding-window throttle, a duplicate-submission fingerprint
// cache, and a suspicious-content scan.
type ComplaintGuard struct {
	Window          time.Duration
	MaxRequests     int
	DuplicateWindow time.Duration
	Now             func() time.Time

	mu           sync.Mutex
	buckets      map[string][]time.Time
	fingerprints map[string]time.Time
}

func NewComplaintGuard() *ComplaintGuard {
	return &ComplaintGuard{
		Window:          DefaultComplaintWindow,
		MaxRequests:     DefaultComplaintMaxRequests,
		DuplicateWindow: DefaultDuplicateWindow,
		buckets:         make(map[string][]time.Time),
		fingerprints:    make(map[string]time.Time),
	}
}

func (g *ComplaintGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

// Allow applies the submission throttle for the client IP and, when known,
// the reporting user. An event is recorded only against keys still under the
// limit; full keys contribute a retry-after instead, measured from their
// oldest event.
func (g *ComplaintGuard) Allow(ip, userID string) error {
	keys := []string{"ip:" + ip}
	if userID != "" {
		keys = append(keys, "user:"+userID)
	}

	now := g.now()
	cutoff := now.Add(-g.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	var retryAfter time.Duration
	for _, key := range keys {
		bucket := g.buckets[key]
		for len(bucket) > 0 && bucket[0].Before(cutoff) {
			bucket = bucket[1:]
		}
		if len(bucket) >= g.MaxRequests {
			wait := g.Window - now.Sub(bucket[0])
			if wait < time.Second {
				wait = time.Second
			}
			if wait > retryAfter {
				retryAfter = wait
			}
		} else {
			bucket = append(bucket, now)
		}
		g.buckets[key] = bucket
	}

	if retryAfter > 0 {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// normalizeField trims and collapses internal whitespace.
func normalizeField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint derives a stable digest of the submission content. Text fields
// are lower-cased and whitespace-collapsed; the incident date is kept
// verbatim apart from trimming; attachments reduce to sorted name:size pairs.
func Fingerprint(in ComplaintInput) string {
	normalized := map[string]any{
		"anonymous_flag": in.Anonymous,
		"student_name":   strings.ToLower(normalizeField(in.StudentName)),
		"incident_type":  strings.ToLower(normalizeField(in.IncidentType)),
		"description":    strings.ToLower(normalizeField(in.Description)),
		"room_number":    strings.ToLower(normalizeField(in.RoomNumber)),
		"incident_date":  normalizeField(in.IncidentDate),
		"witnesses":      strings.ToLower(normalizeField(in.Witnesses)),
	}

	pairs := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		pairs = append(pairs, fmt.Sprintf("%s:%d", strings.ToLower(normalizeField(a.Name)), a.Size))
	}
	sort.Strings(pairs)
	normalized["attachments"] = pairs

	// json.Marshal emits map keys in sorted order, giving a canonical form.
	serialized, _ := json.Marshal(normalized)
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// CheckDuplicate reports whether an identical submission was seen inside the
// duplicate window. Expired fingerprints are dropped on the way through.
func (g *ComplaintGuard) CheckDuplicate(fingerprint string) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, seen := range g.fingerprints {
		if now.Sub(seen) > g.DuplicateWindow {
			delete(g.fingerprints, key)
		}
	}

	_, dup := g.fingerprints[fingerprint]
	return dup
}

// RegisterFingerprint records a fingerprint after the complaint persisted.
func (g *ComplaintGuard) RegisterFingerprint(fingerprint string) {
	if fingerprint == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.fingerprints[fingerprint] = g.now()
}

// ScanSuspicious returns the names of fields carrying script-injection
// signatures, in submission order, attachment names included.
func ScanSuspicious(in ComplaintInput) []string {
	var flagged []string

	fields := []struct {
		name  string
		value string
	}{
		{"student_name", in.StudentName},
		{"incident_type", in.IncidentType},
		{"description", in.Description},
		{"room_number", in.RoomNumber},
		{"witnesses", in.Witnesses},
		{"notes", in.Notes},
	}
	for _, f := range fields {
		if matchesSuspicious(strings.TrimSpace(f.value)) {
			flagged = append(flagged, f.name)
		}
	}

	for i, a := range in.Attachments {
		if matchesSuspicious(a.Name) {
			flagged = append(flagged, fmt.Sprintf("attachments[%d].name", i))
		}
	}
	return flagged
}

func matchesSuspicious(value string) bool {
	if value == "" {
		return false
	}
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// Sweep drops stale throttle buckets and expired fingerprints; called from
// housekeeping.
func (g *ComplaintGuard) Sweep() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.Window)
	for key, bucket := range g.buckets {
		for len(bucket) > 0 && bucket[0].Before(cutoff) {
			bucket = bucket[1:]
		}
		if len(bucket) == 0 {
			delete(g.buckets, key)
			continue
		}
		g.buckets[key] = bucket
	}

	for key, seen := range g.fingerprints {
		if now.Sub(seen) > g.DuplicateWindow {
			delete(g.fingerprints, key)
		}
	}
}
