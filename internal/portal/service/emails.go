package service

import (
	"fmt"
	"html"
	"strings"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/pkg/mailx"
)

// displayName picks the friendliest non-empty name for email salutations.
func displayName(u domain.User) string {
	for _, candidate := range []string{u.FullName, u.Username, u.Email} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return "YouMatter User"
}

// joinNonEmpty joins lines, skipping blanks that come from optional content.
func joinNonEmpty(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// verificationCodeEmail builds the step-up verification message. The code is
// only ever embedded here; nothing else sees the plaintext.
func verificationCodeEmail(u domain.User, code, loginURL string) mailx.Message {
	name := displayName(u)

	loginLine := ""
	if loginURL != "" {
		loginLine = "Login here: " + loginURL
	}
	text := joinNonEmpty([]string{
		fmt.Sprintf("Hi %s,", name),
		"For security purposes, we need to confirm it's really you.",
		"Enter the six-digit verification code below to complete your sign-in:",
		fmt.Sprintf("Verification Code: %s", code),
		"This code will expire in 10 minutes. If you did not attempt to sign in, please contact your administrator immediately.",
		loginLine,
		"Regards,",
		"YouMatter Security Team",
	})

	htmlLines := []string{
		fmt.Sprintf("<p>Hi %s,</p>", html.EscapeString(name)),
		"<p>For security purposes, we need to confirm it's really you.</p>",
		"<p>Enter the six-digit code below to complete your sign-in:</p>",
		fmt.Sprintf(`<p style="font-size: 1.5rem; font-weight: bold; letter-spacing: 0.2rem;">%s</p>`, html.EscapeString(code)),
		"<p>This code will expire in 10 minutes.</p>",
	}
	if loginURL != "" {
		htmlLines = append(htmlLines, fmt.Sprintf(`<p><a href="%s">Return to the YouMatter portal</a></p>`, html.EscapeString(loginURL)))
	}
	htmlLines = append(htmlLines,
		"<p>If you did not attempt to sign in, please contact your administrator immediately.</p>",
		"<p>Regards,<br/>YouMatter Security Team</p>",
	)

	return mailx.Message{
		To:       strings.TrimSpace(u.Email),
		Subject:  "Your YouMatter verification code",
		TextBody: text,
		HTMLBody: strings.Join(htmlLines, "\n"),
	}
}

// temporaryPasswordEmail builds the forgot-password and invitation message
// carrying a freshly generated temporary password.
func temporaryPasswordEmail(u domain.User, temporaryPassword, loginURL string) mailx.Message {
	name := displayName(u)
	email := strings.TrimSpace(u.Email)

	loginLine := ""
	if loginURL != "" {
		loginLine = "Login here: " + loginURL
	}
	text := joinNonEmpty([]string{
		fmt.Sprintf("Hi %s,", name),
		"We received a request to reset your YouMatter portal password.",
		"Use the temporary password below to sign in:",
		fmt.Sprintf("Email: %s", email),
		fmt.Sprintf("Temporary Password: %s", temporaryPassword),
		"Please change your password immediately after logging in.",
		loginLine,
		"If you did not request this reset, please contact your administrator right away.",
		"Regards,",
		"YouMatter Support Team",
	})

	htmlLines := []string{
		fmt.Sprintf("<p>Hi %s,</p>", html.EscapeString(name)),
		"<p>We received a request to reset your YouMatter portal password.</p>",
		"<p>Use the temporary credentials below to sign in:</p>",
		"<ul>",
		fmt.Sprintf("  <li><strong>Email:</strong> %s</li>", html.EscapeString(email)),
		fmt.Sprintf("  <li><strong>Temporary Password:</strong> %s</li>", html.EscapeString(temporaryPassword)),
		"</ul>",
		"<p>Please change your password immediately after logging in.</p>",
	}
	if loginURL != "" {
		htmlLines = append(htmlLines, fmt.Sprintf(`<p><a href="%s">Click here to sign in</a></p>`, html.EscapeString(loginURL)))
	}
	htmlLines = append(htmlLines,
		"<p>If you did not request this reset, please contact your administrator right away.</p>",
		"<p>Regards,<br/>YouMatter Support Team</p>",
	)

	return mailx.Message{
		To:       email,
		Subject:  "YouMatter Temporary Password",
		TextBody: text,
		HTMLBody: strings.Join(htmlLines, "\n"),
	}
}

// credentialSubjects distinguishes the invitation and admin-reset variants of
// the temporary credentials message.
type credentialKind struct {
	subject string
	intro   string
	prompt  string
	contact string
}

var (
	studentInviteKind = credentialKind{
		subject: "Welcome to the YouMatter Portal",
		intro:   "You have been invited to join the YouMatter portal.",
		prompt:  "Use the credentials below to sign in:",
		contact: "If you did not expect this invitation, please contact your administrator immediately.",
	}
	studentResetKind = credentialKind{
		subject: "Your YouMatter Portal Password Has Been Reset",
		intro:   "Your password has been reset by an administrator.",
		prompt:  "Use the temporary password below to sign in and set a new password immediately.",
		contact: "If you did not expect this invitation, please contact your administrator immediately.",
	}
	adminInviteKind = credentialKind{
		subject: "YouMatter Administrator Invitation",
		intro:   "You have been invited to serve as an administrator on the YouMatter platform.",
		prompt:  "Use the credentials below to sign in:",
		contact: "If you did not expect this invitation, please contact your super administrator immediately.",
	}
	adminResetKind = credentialKind{
		subject: "Your YouMatter Administrator Password Has Been Reset",
		intro:   "Your administrator password has been reset by a super administrator.",
		prompt:  "Use the temporary password below to sign in and update your password immediately.",
		contact: "If you did not expect this invitation, please contact your super administrator immediately.",
	}
)

// credentialsEmail builds the invitation or admin-reset message carrying
// temporary sign-in credentials.
func credentialsEmail(fullName, email, temporaryPassword, loginURL string, kind credentialKind) mailx.Message {
	loginLine := ""
	if loginURL != "" {
		loginLine = "Login here: " + loginURL
	}
	text := joinNonEmpty([]string{
		fmt.Sprintf("Hi %s,", fullName),
		kind.intro,
		kind.prompt,
		fmt.Sprintf("Email: %s", email),
		fmt.Sprintf("Temporary Password: %s", temporaryPassword),
		"Please sign in as soon as possible and change your password after logging in.",
		loginLine,
		kind.contact,
		"Regards,",
		"YouMatter Support Team",
	})

	htmlLines := []string{
		fmt.Sprintf("<p>Hi %s,</p>", html.EscapeString(fullName)),
		fmt.Sprintf("<p>%s</p>", html.EscapeString(kind.intro)),
		"<p>Use the credentials below to sign in:</p>",
		"<ul>",
		fmt.Sprintf("  <li><strong>Email:</strong> %s</li>", html.EscapeString(email)),
		fmt.Sprintf("  <li><strong>Temporary Password:</strong> %s</li>", html.EscapeString(temporaryPassword)),
		"</ul>",
		"<p>Please sign in as soon as possible and change your password after logging in.</p>",
	}
	if loginURL != "" {
		htmlLines = append(htmlLines, fmt.Sprintf(`<p><a href="%s">Click here to sign in</a></p>`, html.EscapeString(loginURL)))
	}
	htmlLines = append(htmlLines,
		fmt.Sprintf("<p>%s</p>", html.EscapeString(kind.contact)),
		"<p>Regards,<br/>YouMatter Support Team</p>",
	)

	return mailx.Message{
		To:       email,
		Subject:  kind.subject,
		TextBody: text,
		HTMLBody: strings.Join(htmlLines, "\n"),
	}
}
