// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/domain/signup"
)

// Store is the port interface for database operations.
type Store interface {
	// Signup requests
	ListPendingRequests(ctx context.Context) ([]signup.Request, error)
	GetRequestsByIDs(ctx context.Context, ids []int64) ([]signup.Request, error)
	CreateRequest(ctx context.Context, req signup.CreateRequest) (*signup.Request, error)
	// DeleteRequest removes a request row. Deleting an absent row is a no-op:
	// approval and rejection are both modeled as deletion.
	DeleteRequest(ctx context.Context, id int64) error
	PendingRequestExists(ctx context.Context, email string) (bool, error)

	// Email logs
	InsertEmailLog(ctx context.Context, entry *maillog.Entry) (*maillog.Entry, error)
	ApplyEmailEvent(ctx context.Context, ev maillog.Event) (*maillog.Entry, error)
	ListEmailLogsSince(ctx context.Context, since time.Time) ([]maillog.Entry, error)
}
