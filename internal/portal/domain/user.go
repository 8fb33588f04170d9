package domain

import (
	"strings"
	"time"
)

// Role is a user's access level.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole normalizes a role string, accepting case differences and
// underscore/hyphen/space variants ("super-admin", "Super Admin"). Unknown
// values map to STUDENT.
func ParseRole(s string) Role {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch Role(normalized) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	default:
		return RoleStudent
	}
}

// IsAdmin reports whether the role carries administrative access.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Status is a user's account lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
)

// ParseStatus normalizes a status string. The legacy value "new" maps to
// PENDING; unknown values also default to PENDING.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return StatusActive
	default:
		return StatusPending
	}
}

type User struct {
	ID           string
	Username     string
	Email        string
	FullName     string
	Role         Role
	Status       Status
	PasswordHash string // argon2 encoded
	AvatarURL    string

	InvitedAt         *time.Time
	LastLoginAt       *time.Time
	LastTwoFactorAt   *time.Time
	PasswordChangedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiresTwoFactor reports whether login must be interrupted by a step-up
// verification code. True on first login, always for admin roles, and
// whenever the account has not re-verified since its password last changed.
func (u User) RequiresTwoFactor() bool {
	if u.LastLoginAt == nil {
		return true
	}
	if u.Role.IsAdmin() {
		return true
	}
	if u.LastTwoFactorAt == nil {
		return true
	}
	if u.PasswordChangedAt != nil && u.LastTwoFactorAt.Before(*u.PasswordChangedAt) {
		return true
	}
	return false
}

// MaskEmail renders an address for display in challenge responses, keeping
// only the first and last character of the local part ("j***e@example.com").
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if local == "" {
		return "*@" + domain
	}

	runes := []rune(local)
	switch len(runes) {
	case 1:
		return string(runes[0]) + "***@" + domain
	case 2:
		return string(runes[0]) + "*" + string(runes[1]) + "@" + domain
	default:
		return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1]) + "@" + domain
	}
}
