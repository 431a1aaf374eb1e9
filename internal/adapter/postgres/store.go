package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/signup"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const requestColumns = `id, email, branch, status, created_at`

func (s *Store) ListPendingRequests(ctx context.Context) ([]signup.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM staff_signup_requests
		 WHERE status = $1 ORDER BY created_at, id`, signup.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var requests []signup.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) GetRequestsByIDs(ctx context.Context, ids []int64) ([]signup.Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM staff_signup_requests
		 WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get requests by ids: %w", err)
	}
	defer rows.Close()

	var requests []signup.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) CreateRequest(ctx context.Context, req signup.CreateRequest) (*signup.Request, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO staff_signup_requests (email, branch, status)
		 VALUES ($1, $2, $3)
		 RETURNING `+requestColumns,
		req.Email, req.Branch, signup.StatusPending)

	r, err := scanRequest(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create request for %s: %w", req.Email, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create request: %w", err)
	}
	return &r, nil
}

// DeleteRequest removes a request row. A missing row is not an error:
// approval and rejection both resolve a request by deleting it, and a
// second delete of the same ID must stay idempotent.
func (s *Store) DeleteRequest(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM staff_signup_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request %d: %w", id, err)
	}
	return nil
}

func (s *Store) PendingRequestExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM staff_signup_requests
		 WHERE lower(email) = lower($1) AND status = $2)`, email, signup.StatusPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request for %s: %w", email, err)
	}
	return exists, nil
}

func scanRequest(row scannable) (signup.Request, error) {
	var r signup.Request
	if err := row.Scan(&r.ID, &r.Email, &r.Branch, &r.Status, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return signup.Request{}, err
		}
		return signup.Request{}, fmt.Errorf("scan request: %w", err)
	}
	return r, nil
}
