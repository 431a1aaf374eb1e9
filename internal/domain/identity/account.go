// Package identity defines the external identity directory account entity.
package identity

import (
	"strings"
	"time"
)

// RoleStaff is the role assigned to every provisioned staff account.
const RoleStaff = "STAFF"

// Metadata is the application-level metadata attached to a directory account.
type Metadata struct {
	Role      string    `json:"role,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Account represents a user account held in the identity directory.
// The directory is the source of truth; this is a read model.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the lookup key for the account: its lowercased email.
func (a Account) Key() string {
	return strings.ToLower(a.Email)
}

// CreateParams holds the fields for creating a new directory account.
type CreateParams struct {
	Email    string
	Password string
	Metadata Metadata
}

// UpdateParams holds the mutable fields of an existing directory account.
// Nil fields are left untouched.
type UpdateParams struct {
	Password *string
	Metadata *Metadata
}
