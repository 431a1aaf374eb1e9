// Package directory defines the identity directory port (interface).
package directory

import (
	"context"
	"errors"

	"github.com/upeohq/staffdesk/internal/domain/identity"
)

// ErrAlreadyRegistered indicates a create raced with another actor that
// registered the same email. Callers skip the item rather than retry.
var ErrAlreadyRegistered = errors.New("email already registered")

// Directory is the port interface for the external identity directory.
// The directory can only be enumerated through paginated listing.
type Directory interface {
	// List returns one page of accounts. page starts at 1. A page shorter
	// than perPage means the listing is exhausted.
	List(ctx context.Context, page, perPage int) ([]identity.Account, error)

	// Create registers a new account. Returns ErrAlreadyRegistered when the
	// email is already taken.
	Create(ctx context.Context, params identity.CreateParams) (*identity.Account, error)

	// UpdateByID rotates the credential and/or replaces metadata.
	UpdateByID(ctx context.Context, id string, params identity.UpdateParams) (*identity.Account, error)
}
