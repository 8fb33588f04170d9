// Package mailx delivers transactional email (verification codes, temporary
// credentials, invitations).
package mailx

import (
	"context"
	"log/slog"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string // optional alternative part
}

// Notifier sends transactional messages. Callers treat a returned error as
// "the user was not notified" and roll back any staged state that depends on
// delivery.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. Used in
// dev environments and tests where no SMTP relay is available.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail delivery skipped, logging instead",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.TextBody,
	)
	return nil
}
