package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages pushed to admin UIs.
const (
	EventEmailStatus       = "email.status"
	EventBounceAlert       = "email.bounce_alert"
	EventRequestsChanged   = "requests.changed"
	EventProvisionProgress = "provision.progress"
	EventProvisionSummary  = "provision.summary"
)

// EmailStatusEvent is broadcast when a delivery status transition lands.
type EmailStatusEvent struct {
	SentTo       string `json:"sent_to"`
	Status       string `json:"status"`
	BounceReason string `json:"bounce_reason,omitempty"`
}

// BounceAlertEvent is broadcast when a bounce hits an address that still has
// a pending signup request; UIs surface it and refresh the request list.
type BounceAlertEvent struct {
	SentTo       string `json:"sent_to"`
	BounceReason string `json:"bounce_reason,omitempty"`
	RequestID    int64  `json:"request_id,omitempty"`
}

// RequestsChangedEvent signals that the pending request list should refresh.
type RequestsChangedEvent struct {
	Reason string `json:"reason"`
	Email  string `json:"email,omitempty"`
}

// ProvisionProgressEvent is broadcast as a provisioning batch advances.
type ProvisionProgressEvent struct {
	Phase     string `json:"phase"`
	RequestID int64  `json:"request_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// ProvisionSummaryEvent is broadcast when a batch finishes.
type ProvisionSummaryEvent struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
