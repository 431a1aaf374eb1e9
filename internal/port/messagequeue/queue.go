// Package messagequeue defines the change feed / message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the Staffdesk change feed.
const (
	// SubjectEmailEvents is the wildcard for all delivery status events.
	SubjectEmailEvents = "email.events.>"
	// SubjectEmailEventPrefix + status (e.g. "email.events.bounced") carries
	// one maillog.Event relayed from the email provider webhook.
	SubjectEmailEventPrefix = "email.events."

	// SubjectRequestsChanged signals that the signup request table changed
	// and request-list views should refresh.
	SubjectRequestsChanged = "signup.requests.changed"
)
