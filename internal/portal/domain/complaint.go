package domain

import (
	"strings"
	"time"
)

// ComplaintStatus tracks a report through triage.
type ComplaintStatus string

const (
	ComplaintNew        ComplaintStatus = "new"
	ComplaintInProgress ComplaintStatus = "in_progress"
	ComplaintResolved   ComplaintStatus = "resolved"
	ComplaintRejected   ComplaintStatus = "rejected"
)

// ParseComplaintStatus normalizes a status string. The legacy value
// "pending" maps to "new". Unknown values are rejected.
func ParseComplaintStatus(s string) (ComplaintStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new", "pending":
		return ComplaintNew, true
	case "in_progress":
		return ComplaintInProgress, true
	case "resolved":
		return ComplaintResolved, true
	case "rejected":
		return ComplaintRejected, true
	default:
		return "", false
	}
}

// Attachment is client-supplied file metadata. The portal stores metadata
// only; binaries never reach the backend.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

type Complaint struct {
	ID            string
	ReferenceCode string
	UserID        string // empty for anonymous reports
	StudentName   string
	Anonymous     bool
	IncidentType  string
	Description   string
	RoomNumber    string
	IncidentDate  string // YYYY-MM-DD, empty when not provided
	Witnesses     string
	Attachments   []Attachment
	Status        ComplaintStatus
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

type ComplaintComment struct {
	ID          string
	ComplaintID string
	AuthorID    string // empty for system comments
	AuthorName  string
	AuthorRole  string
	Message     string
	CreatedAt   time.Time
}

// NextReferenceCode advances a human-friendly reference code: A0001 through
// A9999, then B0001, and a fresh letter column once Z9999 is exhausted.
func NextReferenceCode(last string) string {
	if last == "" {
		return "A0001"
	}

	var prefix, digits []rune
	for _, r := range last {
		switch {
		case r >= 'A' && r <= 'Z':
			prefix = append(prefix, r)
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		}
	}
	if len(prefix) == 0 || len(digits) == 0 {
		prefix = []rune{'A'}
		digits = []rune{'0', '0', '0', '0'}
	}

	number := 0
	for _, d := range digits {
		number = number*10 + int(d-'0')
	}

	if number < 9999 {
		return format(prefix, number+1)
	}

	// Roll the letter column like an odometer.
	i := len(prefix) - 1
	for ; i >= 0; i-- {
		if prefix[i] != 'Z' {
			prefix[i]++
			break
		}
		prefix[i] = 'A'
	}
	if i < 0 {
		prefix = append([]rune{'A'}, prefix...)
	}
	return format(prefix, 1)
}

func format(prefix []rune, number int) string {
	var b strings.Builder
	b.WriteString(string(prefix))
	b.WriteByte(byte('0' + number/1000%10))
	b.WriteByte(byte('0' + number/100%10))
	b.WriteByte(byte('0' + number/10%10))
	b.WriteByte(byte('0' + number%10))
	return b.String()
}
