// Package maillog defines the email delivery log entity and its status model.
package maillog

import (
	"fmt"
	"strings"
	"time"

	"github.com/upeohq/staffdesk/internal/domain"
)

// Status is the delivery state of a logged email.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusComplaint Status = "complaint"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	// StatusFailed marks a send attempt that never left this process.
	StatusFailed Status = "failed"
)

// transitions maps each status to the statuses a webhook event may move it to.
// The initial "sent" insert is the only locally-initiated state.
var transitions = map[Status]map[Status]bool{
	StatusSent:      {StatusDelivered: true, StatusBounced: true, StatusComplaint: true, StatusOpened: true, StatusClicked: true},
	StatusDelivered: {StatusBounced: true, StatusComplaint: true, StatusOpened: true, StatusClicked: true},
	StatusOpened:    {StatusClicked: true, StatusComplaint: true},
}

// CanTransition reports whether a webhook event may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ParseStatus validates a wire status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusSent, StatusDelivered, StatusBounced, StatusComplaint, StatusOpened, StatusClicked, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown email status %q", domain.ErrValidation, s)
	}
}

// Entry represents one row of the email_logs table. SentTo is the lookup key;
// the most recently sent entry per address is the current status.
type Entry struct {
	ID                int64      `json:"id"`
	SentTo            string     `json:"sent_to"`
	Subject           string     `json:"subject"`
	RequestID         *int64     `json:"request_id,omitempty"`
	MessageID         string     `json:"message_id,omitempty"`
	Status            Status     `json:"status"`
	SentAt            time.Time  `json:"sent_at"`
	BounceReason      string     `json:"bounce_reason,omitempty"`
	BouncedAt         *time.Time `json:"bounced_at,omitempty"`
	LastWebhookEvent  string     `json:"last_webhook_event,omitempty"`
	WebhookReceivedAt *time.Time `json:"webhook_received_at,omitempty"`
}

// Key returns the lowercased recipient address used for status lookups.
func (e Entry) Key() string {
	return strings.ToLower(e.SentTo)
}

// Event is a delivery status transition relayed from the email provider's
// webhook, either directly or over the change feed.
type Event struct {
	SentTo       string    `json:"sent_to"`
	MessageID    string    `json:"message_id,omitempty"`
	Status       Status    `json:"status"`
	BounceReason string    `json:"bounce_reason,omitempty"`
	EventType    string    `json:"event_type"`
	OccurredAt   time.Time `json:"occurred_at"`
}
