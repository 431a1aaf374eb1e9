package messagequeue

// EmailEventPayload is the schema for email.events.* messages. It mirrors
// maillog.Event on the wire.
type EmailEventPayload struct {
	SentTo       string `json:"sent_to"`
	MessageID    string `json:"message_id"`
	Status       string `json:"status"`
	BounceReason string `json:"bounce_reason"`
	EventType    string `json:"event_type"`
	OccurredAt   string `json:"occurred_at"`
}

// RequestsChangedPayload is the schema for signup.requests.changed messages.
type RequestsChangedPayload struct {
	Reason string `json:"reason"`
	Email  string `json:"email,omitempty"`
}
