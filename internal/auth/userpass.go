package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UserpassAuth implements username/password authentication
type UserpassAuth struct {
	store            Store
	sessionExpiry    time.Duration
	lockoutThreshold int
	lockoutDuration  time.Duration
}

// NewUserpassAuth creates a new username/password auth provider
func NewUserpassAuth(store Store, sessionExpiryDays, lockoutThreshold, lockoutDurationMinutes int) *UserpassAuth {
	return &UserpassAuth{
		store:            store,
		sessionExpiry:    time.Duration(sessionExpiryDays) * 24 * time.Hour,
		lockoutThreshold: lockoutThreshold,
		lockoutDuration:  time.Duration(lockoutDurationMinutes) * time.Minute,
	}
}

// Login authenticates credentials and returns a session token
func (u *UserpassAuth) Login(ctx context.Context, username, password string) (string, error) {
	locked, until := u.store.IsAccountLocked(ctx, username)
	if locked {
		return "", fmt.Errorf("account locked until %s", until.Format(time.RFC3339))
	}

	user, err := u.store.GetUserByUsername(ctx, username)
	if err != nil {
		u.store.RecordFailedLogin(ctx, username, u.lockoutThreshold, u.lockoutDuration)
		return "", fmt.Errorf("invalid credentials")
	}

	if !checkPasswordHash(password, user.PasswordHash) {
		u.store.RecordFailedLogin(ctx, username, u.lockoutThreshold, u.lockoutDuration)
		return "", fmt.Errorf("invalid credentials")
	}

	// 32 bytes = 256 bits of entropy
	token, err := generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := time.Now().Add(u.sessionExpiry)
	if err := u.store.CreateSessionToken(ctx, token, user.ID, expiresAt); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	u.store.UpdateLastLogin(ctx, user.ID)
	u.store.ClearFailedLogins(ctx, username)

	return token, nil
}

// Register creates a new account and returns the user id
func (u *UserpassAuth) Register(ctx context.Context, username, password, email string) (int64, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return 0, fmt.Errorf("username must be at least 3 characters")
	}
	if len(password) < 8 {
		return 0, fmt.Errorf("password must be at least 8 characters")
	}
	userID, err := u.store.CreateUser(ctx, username, password, email)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return userID, nil
}

// Logout invalidates a session token
func (u *UserpassAuth) Logout(ctx context.Context, token string) error {
	return u.store.DeleteSessionToken(ctx, token)
}

// ValidateToken verifies a token and returns the user_id
func (u *UserpassAuth) ValidateToken(ctx context.Context, token string) (int64, error) {
	sessionToken, err := u.store.GetSessionToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	if time.Now().After(sessionToken.ExpiresAt) {
		// Token is expired, delete it
		u.store.DeleteSessionToken(ctx, token)
		return 0, fmt.Errorf("token expired")
	}

	return sessionToken.UserID, nil
}
