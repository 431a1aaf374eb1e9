// Package email provides an SMTP-based implementation of the mailer port.
package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"

	"github.com/upeohq/staffdesk/internal/config"
)

// Mailer sends notification emails via SMTP.
type Mailer struct {
	cfg config.SMTP
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates a new SMTP mailer.
func NewMailer(cfg config.SMTP) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// Send delivers an HTML email and returns the generated message id. The id
// is stamped into the Message-ID header so downstream webhook events can be
// correlated back to the email_logs row.
func (m *Mailer) Send(_ context.Context, to, subject, html string) (string, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	messageID := uuid.NewString()

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: <%s@staffdesk>\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		m.cfg.From, to, subject, messageID, html)

	var auth smtp.Auth
	if m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return messageID, nil
}
