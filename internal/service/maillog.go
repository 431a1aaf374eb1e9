package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/upeohq/staffdesk/internal/adapter/otel"
	"github.com/upeohq/staffdesk/internal/adapter/ws"
	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/port/database"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

// MailLogReducer folds delivery events into the email log. It is fed by the
// change feed for low latency, and a periodic reconciliation pass re-reads
// recent rows from the database so a missed push can only make the in-memory
// view stale for one interval, never forever.
type MailLogReducer struct {
	store   database.Store
	queue   messagequeue.Queue
	hub     *ws.Hub
	metrics *otel.Metrics
	log     *slog.Logger

	interval time.Duration
	lookback time.Duration

	mu   sync.RWMutex
	view map[string]maillog.Entry
}

// NewMailLogReducer wires the reducer.
func NewMailLogReducer(
	store database.Store,
	queue messagequeue.Queue,
	hub *ws.Hub,
	metrics *otel.Metrics,
	cfg config.Reconcile,
	log *slog.Logger,
) *MailLogReducer {
	return &MailLogReducer{
		store:    store,
		queue:    queue,
		hub:      hub,
		metrics:  metrics,
		log:      log,
		interval: cfg.Interval,
		lookback: cfg.Lookback,
		view:     make(map[string]maillog.Entry),
	}
}

// Start subscribes to the delivery event feed and launches the reconciliation
// loop. It returns after the initial reconcile; the loop stops when ctx ends.
func (r *MailLogReducer) Start(ctx context.Context) error {
	if r.queue != nil {
		if _, err := r.queue.Subscribe(ctx, messagequeue.SubjectEmailEvents, r.handleFeed); err != nil {
			return fmt.Errorf("subscribe email events: %w", err)
		}
	}

	if err := r.Reconcile(ctx); err != nil {
		r.log.Warn("initial email log reconcile failed", "error", err)
	}

	go r.reconcileLoop(ctx)
	return nil
}

func (r *MailLogReducer) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.log.Warn("email log reconcile failed", "error", err)
			}
		}
	}
}

// handleFeed decodes one feed message and applies it.
func (r *MailLogReducer) handleFeed(ctx context.Context, subject string, data []byte) error {
	var payload messagequeue.EmailEventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal email event on %s: %w", subject, err)
	}

	status, err := maillog.ParseStatus(payload.Status)
	if err != nil {
		return err
	}
	ev := maillog.Event{
		SentTo:       payload.SentTo,
		MessageID:    payload.MessageID,
		Status:       status,
		BounceReason: payload.BounceReason,
		EventType:    payload.EventType,
	}
	if payload.OccurredAt != "" {
		if ts, err := time.Parse(time.RFC3339, payload.OccurredAt); err == nil {
			ev.OccurredAt = ts
		}
	}

	_, err = r.Apply(ctx, ev)
	return err
}

// Apply folds one delivery event into the log. Events for unknown addresses
// and transitions the status table forbids are logged and dropped rather than
// retried: replaying them can never succeed.
func (r *MailLogReducer) Apply(ctx context.Context, ev maillog.Event) (*maillog.Entry, error) {
	entry, err := r.store.ApplyEmailEvent(ctx, ev)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.log.Warn("delivery event for unknown address dropped", "sent_to", ev.SentTo, "status", ev.Status)
			return nil, nil
		case errors.Is(err, domain.ErrConflict):
			r.log.Warn("illegal status transition dropped",
				"sent_to", ev.SentTo, "status", ev.Status, "event_type", ev.EventType)
			return nil, nil
		default:
			return nil, err
		}
	}

	r.observe(*entry)
	r.broadcast(ctx, ws.EventEmailStatus, ws.EmailStatusEvent{
		SentTo:       entry.SentTo,
		Status:       string(entry.Status),
		BounceReason: entry.BounceReason,
	})

	if entry.Status == maillog.StatusBounced || entry.Status == maillog.StatusComplaint {
		r.alertBounce(ctx, entry)
	}
	return entry, nil
}

// alertBounce surfaces a bounce to connected admins. If the address still has
// a pending signup request the alert carries a refresh hint, so the list view
// shows the request next to the failed notification.
func (r *MailLogReducer) alertBounce(ctx context.Context, entry *maillog.Entry) {
	if r.metrics != nil {
		r.metrics.EmailsBounced.Add(ctx, 1)
	}

	alert := ws.BounceAlertEvent{
		SentTo:       entry.SentTo,
		BounceReason: entry.BounceReason,
	}
	if entry.RequestID != nil {
		alert.RequestID = *entry.RequestID
	}
	r.broadcast(ctx, ws.EventBounceAlert, alert)

	pending, err := r.store.PendingRequestExists(ctx, entry.SentTo)
	if err != nil {
		r.log.Warn("pending request lookup failed", "sent_to", entry.SentTo, "error", err)
		return
	}
	if pending {
		r.broadcast(ctx, ws.EventRequestsChanged, ws.RequestsChangedEvent{
			Reason: "credential email bounced",
			Email:  entry.SentTo,
		})
	}
}

// Reconcile re-reads recent log rows and repairs the in-memory view.
func (r *MailLogReducer) Reconcile(ctx context.Context) error {
	entries, err := r.store.ListEmailLogsSince(ctx, time.Now().Add(-r.lookback))
	if err != nil {
		return fmt.Errorf("list email logs: %w", err)
	}

	fresh := make(map[string]maillog.Entry, len(entries))
	for _, e := range entries {
		// Rows come ordered by sent_at, so the last write per key wins.
		fresh[e.Key()] = e
	}

	r.mu.Lock()
	r.view = fresh
	r.mu.Unlock()
	return nil
}

// Observe records an orchestrator-inserted entry in the in-memory view.
func (r *MailLogReducer) Observe(entry maillog.Entry) {
	r.observe(entry)
}

func (r *MailLogReducer) observe(entry maillog.Entry) {
	r.mu.Lock()
	r.view[entry.Key()] = entry
	r.mu.Unlock()
}

// StatusFor returns the current delivery status for an address.
func (r *MailLogReducer) StatusFor(email string) (maillog.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.view[strings.ToLower(email)]
	return entry, ok
}

// RecentEntries lists log rows within the reconciliation lookback window.
func (r *MailLogReducer) RecentEntries(ctx context.Context) ([]maillog.Entry, error) {
	return r.store.ListEmailLogsSince(ctx, time.Now().Add(-r.lookback))
}

func (r *MailLogReducer) broadcast(ctx context.Context, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastEvent(ctx, eventType, payload)
}
