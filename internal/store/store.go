package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// User represents a registered or guest account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsGuest      bool
	GuestID      string // synthetic id handed to guest accounts
	CreatedAt    time.Time
}

// UserStore handles account persistence. Collaboration sessions themselves
// are ephemeral and never touch the store.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with a synthetic id.
	CreateGuestUser(ctx context.Context, guestID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a non-guest user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Close closes the underlying database connection.
	Close() error
}
