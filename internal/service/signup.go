package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/upeohq/staffdesk/internal/adapter/ws"
	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/port/database"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

// SignupService handles signup request intake and listing.
type SignupService struct {
	store database.Store
	queue messagequeue.Queue
	hub   *ws.Hub
	log   *slog.Logger
}

// NewSignupService creates a signup intake service.
func NewSignupService(store database.Store, queue messagequeue.Queue, hub *ws.Hub, log *slog.Logger) *SignupService {
	return &SignupService{store: store, queue: queue, hub: hub, log: log}
}

// ListPending returns all pending signup requests, oldest first.
func (s *SignupService) ListPending(ctx context.Context) ([]signup.Request, error) {
	return s.store.ListPendingRequests(ctx)
}

// Create files one signup request. The email is normalized before validation
// so the stored row matches the directory's case-insensitive keying.
func (s *SignupService) Create(ctx context.Context, req signup.CreateRequest) (*signup.Request, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: a pending request for %s already exists", domain.ErrConflict, req.Email)
		}
		return nil, err
	}

	s.log.Info("signup request filed", "request_id", created.ID, "email", created.Email, "branch", created.Branch)
	s.notifyChanged(ctx, "request filed", created.Email)
	return created, nil
}

// BulkRejection describes one row that failed bulk intake validation.
type BulkRejection struct {
	Row    int    `json:"row"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}

// BulkReport is the outcome of a bulk intake: accepted rows and every
// rejection with its reason. Invalid rows are reported, never silently
// dropped.
type BulkReport struct {
	Accepted []signup.Request `json:"accepted"`
	Rejected []BulkRejection  `json:"rejected"`
}

// BulkCreate files many signup requests at once. Row numbers in the report
// are 1-based in input order.
func (s *SignupService) BulkCreate(ctx context.Context, rows []signup.CreateRequest) (BulkReport, error) {
	if len(rows) == 0 {
		return BulkReport{}, fmt.Errorf("%w: no rows given", domain.ErrValidation)
	}

	report := BulkReport{}
	for i, row := range rows {
		row.Normalize()
		if err := row.Validate(); err != nil {
			report.Rejected = append(report.Rejected, BulkRejection{
				Row:    i + 1,
				Email:  row.Email,
				Reason: reasonOf(err),
			})
			continue
		}

		created, err := s.store.CreateRequest(ctx, row)
		if err != nil {
			reason := reasonOf(err)
			if errors.Is(err, domain.ErrConflict) {
				reason = "a pending request for this email already exists"
			}
			report.Rejected = append(report.Rejected, BulkRejection{
				Row:    i + 1,
				Email:  row.Email,
				Reason: reason,
			})
			continue
		}
		report.Accepted = append(report.Accepted, *created)
	}

	s.log.Info("bulk intake finished",
		"rows", len(rows), "accepted", len(report.Accepted), "rejected", len(report.Rejected))
	if len(report.Accepted) > 0 {
		s.notifyChanged(ctx, "bulk intake", "")
	}
	return report, nil
}

func (s *SignupService) notifyChanged(ctx context.Context, reason, email string) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventRequestsChanged, ws.RequestsChangedEvent{Reason: reason, Email: email})
	}
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.RequestsChangedPayload{Reason: reason, Email: email})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectRequestsChanged, payload); err != nil {
		s.log.Warn("publish requests changed failed", "error", err)
	}
}

// reasonOf strips the sentinel prefix from a validation error for reporting.
func reasonOf(err error) string {
	msg := err.Error()
	if prefix := domain.ErrValidation.Error() + ": "; len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
