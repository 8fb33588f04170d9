// Package passwordx implements the password strength policy and the
// temporary-password generator used for invitations and resets.
package passwordx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// MinLength is the minimum accepted password length.
	MinLength = 8

	generatorSpecials = "!@#$%^&*()-_=+[]{}<>?/|~"
	policySpecials    = `!@#$%^&*()_+-={}[]:;"'<>.,?/`

	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
)

var commonPatterns = []string{
	"password", "passw0rd", "letmein", "welcome", "admin", "root",
	"123456", "1234567", "12345678", "123456789", "1234567890",
	"qwerty", "abc123", "iloveyou",
}

var keyboardSequences = []string{
	"qwertyuiop", "asdfghjkl", "zxcvbnm",
	"abcdefghijklmnopqrstuvwxyz", "0123456789",
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]`)

// PersonalInfo carries the identity fields a password must not contain.
type PersonalInfo struct {
	FullName string
	Email    string
	Username string
}

// Validate checks a candidate password against the strength policy. It
// returns a human-readable reason when the password is rejected, or "" when
// it is acceptable.
func Validate(password string, info PersonalInfo) string {
	if password == "" {
		return "Password is required."
	}
	if len(password) < MinLength {
		return fmt.Sprintf("Password must be at least %d characters long.", MinLength)
	}
	if !strings.ContainsAny(password, upperChars) {
		return "Password must include at least one uppercase letter."
	}
	if !strings.ContainsAny(password, lowerChars) {
		return "Password must include at least one lowercase letter."
	}
	if !strings.ContainsAny(password, digitChars) {
		return "Password must include at least one number."
	}
	if !strings.ContainsAny(password, policySpecials) {
		return `Password must include at least one special character (! @ # $ % ^ & * ( ) _ + - = { } [ ] : ; " ' < > , . ? /).`
	}

	lowered := strings.ToLower(password)
	for _, pattern := range commonPatterns {
		if strings.Contains(lowered, pattern) {
			return "Password should not contain common words like 'password' or '123456'."
		}
	}

	if containsPersonalInfo(password, info) {
		return "Password must not contain your personal information."
	}
	if containsSequence(password, 4) {
		return "Password must not contain sequential patterns like 'abcd' or '1234'."
	}
	if containsRepeats(password, 4) {
		return "Password must not contain repeated characters like '1111'."
	}

	return ""
}

// containsSequence reports whether the password contains a run of length
// consecutive ascending or descending characters, or a slice of a common
// keyboard row.
func containsSequence(password string, length int) bool {
	normalized := strings.ToLower(password)

	for _, seq := range keyboardSequences {
		for i := 0; i+length <= len(seq); i++ {
			if strings.Contains(normalized, seq[i:i+length]) {
				return true
			}
		}
	}

	runes := []rune(normalized)
	for i := 0; i+length <= len(runes); i++ {
		ascending, descending := true, true
		for j := range length - 1 {
			diff := runes[i+j+1] - runes[i+j]
			if diff != 1 {
				ascending = false
			}
			if diff != -1 {
				descending = false
			}
		}
		if ascending || descending {
			return true
		}
	}
	return false
}

func containsRepeats(password string, length int) bool {
	runes := []rune(password)
	for i := 0; i+length <= len(runes); i++ {
		same := true
		for j := 1; j < length; j++ {
			if runes[i+j] != runes[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func containsPersonalInfo(password string, info PersonalInfo) bool {
	normalize := func(s string) string {
		return nonAlnumRE.ReplaceAllString(strings.ToLower(s), "")
	}

	normalizedPassword := normalize(password)
	fragments := make(map[string]struct{})

	splitRE := regexp.MustCompile(`[\s@._-]+`)
	for _, raw := range []string{info.FullName, info.Email, info.Username} {
		if full := normalize(raw); full != "" {
			fragments[full] = struct{}{}
		}
		for _, part := range splitRE.Split(raw, -1) {
			if frag := normalize(part); len(frag) >= 3 {
				fragments[frag] = struct{}{}
			}
		}
	}

	for fragment := range fragments {
		if strings.Contains(normalizedPassword, fragment) {
			return true
		}
	}
	return false
}

// Generate produces a crypto-random password of at least 8 characters that
// contains an uppercase letter, a lowercase letter, a digit and a special
// character.
func Generate(length int) (string, error) {
	length = max(length, MinLength)

	chars := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, generatorSpecials} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	all := upperChars + lowerChars + digitChars + generatorSpecials
	for len(chars) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	if err := shuffle(chars); err != nil {
		return "", err
	}
	return string(chars), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate password: %w", err)
	}
	return set[n.Int64()], nil
}

// shuffle is a crypto-random Fisher-Yates shuffle.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
