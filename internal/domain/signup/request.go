// Package signup defines the staff signup request entity.
package signup

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/upeohq/staffdesk/internal/domain"
)

// Status of a signup request. A row only exists while awaiting a decision;
// approval and rejection both resolve by deleting the row.
type Status string

// StatusPending is the only status a stored request can carry.
const StatusPending Status = "pending"

// Request represents an employee's pending request for system access.
type Request struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Branch    string    `json:"branch,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the lowercased email used for directory matching.
func (r Request) Key() string {
	return strings.ToLower(r.Email)
}

// CreateRequest holds the fields needed to file a new signup request.
type CreateRequest struct {
	Email  string `json:"email"`
	Branch string `json:"branch"`
}

// Normalize lowercases and trims the email. Comparison against the identity
// directory is case-insensitive, so normalization happens at the boundary.
func (c *CreateRequest) Normalize() {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Branch = strings.TrimSpace(c.Branch)
}

// Validate checks the request fields against store-boundary rules.
func (c CreateRequest) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: malformed email %q", domain.ErrValidation, c.Email)
	}
	if c.Branch == "" {
		return fmt.Errorf("%w: branch is required", domain.ErrValidation)
	}
	return nil
}
