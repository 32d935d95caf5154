// Package auth provides session-token authentication backed by the local
// store.
package auth

import (
	"context"
	"errors"
	"time"

	"wayfarer/internal/localstore"
)

var ErrUserIDNotFound = errors.New("user_id not found in context")

// Provider defines the authentication interface
type Provider interface {
	// Login authenticates credentials and returns a session token
	Login(ctx context.Context, username, password string) (token string, err error)

	// Register creates a new account and returns the user id
	Register(ctx context.Context, username, password, email string) (userID int64, err error)

	// Logout invalidates a session token
	Logout(ctx context.Context, token string) error

	// ValidateToken verifies a token and returns the user_id
	ValidateToken(ctx context.Context, token string) (userID int64, err error)
}

// Store defines the database operations needed by auth providers
type Store interface {
	CreateUser(ctx context.Context, username, password, email string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*localstore.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error

	CreateSessionToken(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	GetSessionToken(ctx context.Context, token string) (*localstore.SessionToken, error)
	DeleteSessionToken(ctx context.Context, token string) error

	IsAccountLocked(ctx context.Context, username string) (bool, time.Time)
	RecordFailedLogin(ctx context.Context, username string, threshold int, lockout time.Duration) error
	ClearFailedLogins(ctx context.Context, username string) error
}
