package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents a user account
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        sql.NullString
	CreatedAt    time.Time
	LastLogin    time.Time
}

// SessionToken represents an authentication session token
type SessionToken struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateUser creates a user account with a bcrypt password hash and returns
// the new user id.
func (s *Store) CreateUser(ctx context.Context, username, password, email string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, created_at)
		VALUES (?, ?, ?, ?)`,
		username, string(hash), email, time.Now().UnixMicro())
	if err != nil {
		return 0, storageErr("failed to create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("failed to read user id", err)
	}
	return id, nil
}

// GetUserByUsername returns a user by username, or ErrNotFound.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, created_at, COALESCE(last_login, 0)
		FROM users WHERE username = ?`, username)
	return scanUser(row, username)
}

// GetUserByID returns a user by id, or ErrNotFound.
func (s *Store) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, created_at, COALESCE(last_login, 0)
		FROM users WHERE id = ?`, userID)
	return scanUser(row, fmt.Sprintf("id %d", userID))
}

func scanUser(row *sql.Row, which string) (*User, error) {
	var u User
	var createdAt, lastLogin int64
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &createdAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", which, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("failed to query user", err)
	}
	u.CreatedAt = time.UnixMicro(createdAt)
	if lastLogin > 0 {
		u.LastLogin = time.UnixMicro(lastLogin)
	}
	return &u, nil
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`,
		time.Now().UnixMicro(), userID); err != nil {
		return storageErr("failed to update last login", err)
	}
	return nil
}

// CreateSessionToken stores a new session token.
func (s *Store) CreateSessionToken(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tokens (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		token, userID, time.Now().UnixMicro(), expiresAt.UnixMicro())
	if err != nil {
		return storageErr("failed to create session token", err)
	}
	return nil
}

// GetSessionToken returns a stored token, or ErrNotFound.
func (s *Store) GetSessionToken(ctx context.Context, token string) (*SessionToken, error) {
	var st SessionToken
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, expires_at
		FROM session_tokens WHERE token = ?`, token).
		Scan(&st.Token, &st.UserID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("failed to query session token", err)
	}
	st.CreatedAt = time.UnixMicro(createdAt)
	st.ExpiresAt = time.UnixMicro(expiresAt)
	return &st, nil
}

// DeleteSessionToken removes a session token.
func (s *Store) DeleteSessionToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token); err != nil {
		return storageErr("failed to delete session token", err)
	}
	return nil
}

// CleanupExpiredTokens removes tokens past their expiry.
func (s *Store) CleanupExpiredTokens(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at < ?`,
		time.Now().UnixMicro()); err != nil {
		return storageErr("failed to cleanup tokens", err)
	}
	return nil
}

// RecordFailedLogin counts a failed attempt and locks the account once the
// threshold is reached.
func (s *Store) RecordFailedLogin(ctx context.Context, username string, threshold int, lockout time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin lockout update", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO failed_logins (username, attempts) VALUES (?, 1)
		ON CONFLICT(username) DO UPDATE SET attempts = attempts + 1`, username)
	if err != nil {
		return storageErr("failed to record failed login", err)
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM failed_logins WHERE username = ?`, username).Scan(&attempts); err != nil {
		return storageErr("failed to read failed logins", err)
	}
	if attempts >= threshold {
		until := time.Now().Add(lockout).UnixMicro()
		if _, err := tx.ExecContext(ctx, `UPDATE failed_logins SET locked_until = ? WHERE username = ?`, until, username); err != nil {
			return storageErr("failed to lock account", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit lockout update", err)
	}
	return nil
}

// ClearFailedLogins resets the counter after a successful login.
func (s *Store) ClearFailedLogins(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failed_logins WHERE username = ?`, username); err != nil {
		return storageErr("failed to clear failed logins", err)
	}
	return nil
}

// IsAccountLocked reports whether the account is locked and until when.
func (s *Store) IsAccountLocked(ctx context.Context, username string) (bool, time.Time) {
	var lockedUntil int64
	err := s.db.QueryRowContext(ctx, `SELECT locked_until FROM failed_logins WHERE username = ?`, username).Scan(&lockedUntil)
	if err != nil || lockedUntil == 0 {
		return false, time.Time{}
	}
	until := time.UnixMicro(lockedUntil)
	if time.Now().After(until) {
		return false, time.Time{}
	}
	return true, until
}
