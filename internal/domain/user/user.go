package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist or has been deactivated.
var ErrNotFound = errors.New("user not found")

// User is the minimal account view the order workflow needs.
type User struct {
	ID     string
	Email  string
	Name   string
	Active bool
}

// Repository provides account lookups for order placement.
type Repository interface {
	// GetByID returns the active user with the given ID, or ErrNotFound when
	// the user is absent or inactive.
	GetByID(ctx context.Context, id string) (*User, error)
}
