package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/maillog"
)

const emailLogColumns = `id, sent_to, subject, request_id, message_id, status, sent_at,
	bounce_reason, bounced_at, last_webhook_event, webhook_received_at`

func (s *Store) InsertEmailLog(ctx context.Context, entry *maillog.Entry) (*maillog.Entry, error) {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO email_logs (sent_to, subject, request_id, message_id, status, sent_at)
		 VALUES (lower($1), $2, $3, $4, $5, $6)
		 RETURNING `+emailLogColumns,
		entry.SentTo, entry.Subject, entry.RequestID, nullIfEmpty(entry.MessageID), entry.Status, entry.SentAt)

	inserted, err := scanEmailLog(row)
	if err != nil {
		return nil, fmt.Errorf("insert email log: %w", err)
	}
	return &inserted, nil
}

// ApplyEmailEvent updates the most recent log entry for the event's recipient,
// guarded by the status transition table. Events for unknown addresses or
// transitions the table forbids return domain.ErrNotFound or domain.ErrConflict
// so the reducer can decide whether to drop or retry.
func (s *Store) ApplyEmailEvent(ctx context.Context, ev maillog.Event) (*maillog.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply email event: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+emailLogColumns+` FROM email_logs
		 WHERE sent_to = lower($1)
		 ORDER BY sent_at DESC, id DESC
		 LIMIT 1 FOR UPDATE`, ev.SentTo)

	current, err := scanEmailLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("apply email event for %s: %w", ev.SentTo, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("apply email event: %w", err)
	}

	if !maillog.CanTransition(current.Status, ev.Status) {
		return nil, fmt.Errorf("apply email event for %s: %s -> %s: %w",
			ev.SentTo, current.Status, ev.Status, domain.ErrConflict)
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	row = tx.QueryRow(ctx,
		`UPDATE email_logs SET
		   status = $2,
		   bounce_reason = COALESCE(NULLIF($3, ''), bounce_reason),
		   bounced_at = CASE WHEN $2 IN ('bounced', 'complaint') THEN $4 ELSE bounced_at END,
		   last_webhook_event = $5,
		   webhook_received_at = $4
		 WHERE id = $1
		 RETURNING `+emailLogColumns,
		current.ID, ev.Status, ev.BounceReason, occurredAt, ev.EventType)

	updated, err := scanEmailLog(row)
	if err != nil {
		return nil, fmt.Errorf("apply email event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply email event: %w", err)
	}
	return &updated, nil
}

func (s *Store) ListEmailLogsSince(ctx context.Context, since time.Time) ([]maillog.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailLogColumns+` FROM email_logs
		 WHERE sent_at >= $1 ORDER BY sent_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()

	var entries []maillog.Entry
	for rows.Next() {
		e, err := scanEmailLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEmailLog(row scannable) (maillog.Entry, error) {
	var (
		e         maillog.Entry
		messageID *string
		reason    *string
		lastEvent *string
	)
	err := row.Scan(&e.ID, &e.SentTo, &e.Subject, &e.RequestID, &messageID, &e.Status, &e.SentAt,
		&reason, &e.BouncedAt, &lastEvent, &e.WebhookReceivedAt)
	if err != nil {
		return maillog.Entry{}, err
	}
	if messageID != nil {
		e.MessageID = *messageID
	}
	if reason != nil {
		e.BounceReason = *reason
	}
	if lastEvent != nil {
		e.LastWebhookEvent = *lastEvent
	}
	return e, nil
}
