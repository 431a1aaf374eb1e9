// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists or was changed by another actor.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates input that failed domain validation.
var ErrValidation = errors.New("validation failed")
