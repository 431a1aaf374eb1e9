// Package mailer defines the outbound email port (interface).
package mailer

import "context"

// Mailer is the port interface for sending notification emails.
type Mailer interface {
	// Send delivers an HTML email and returns the provider message id.
	Send(ctx context.Context, to, subject, html string) (messageID string, err error)
}
