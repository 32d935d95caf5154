package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wayfarer/internal/localstore"
)

func newTestAuth(t *testing.T) (*UserpassAuth, *localstore.Store) {
	t.Helper()
	store, err := localstore.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewUserpassAuth(store, 7, 3, 15), store
}

func TestRegisterAndLogin(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	userID, err := provider.Register(ctx, "alice", "wanderlust99", "alice@example.com")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	token, err := provider.Login(ctx, "alice", "wanderlust99")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("Empty session token")
	}

	gotID, err := provider.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if gotID != userID {
		t.Errorf("User = %d, want %d", gotID, userID)
	}
}

func TestRegisterValidation(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := provider.Register(ctx, "ab", "longenough1", ""); err == nil {
		t.Error("Short username accepted")
	}
	if _, err := provider.Register(ctx, "charlie", "short", ""); err == nil {
		t.Error("Short password accepted")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := provider.Register(ctx, "alice", "wanderlust99", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := provider.Login(ctx, "alice", "wrong-password")
	if err == nil {
		t.Fatal("Login with wrong password succeeded")
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("Error = %v, want invalid credentials", err)
	}

	// Unknown users get the same error shape
	_, err = provider.Login(ctx, "nobody", "whatever99")
	if err == nil || !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("Unknown user error = %v", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := provider.Register(ctx, "alice", "wanderlust99", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		provider.Login(ctx, "alice", "wrong-password")
	}

	_, err := provider.Login(ctx, "alice", "wanderlust99")
	if err == nil {
		t.Fatal("Login succeeded on locked account")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Errorf("Error = %v, want lockout", err)
	}
}

func TestLoginClearsFailureCount(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := provider.Register(ctx, "alice", "wanderlust99", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Two failures, then a success, then two more failures must not lock
	provider.Login(ctx, "alice", "wrong")
	provider.Login(ctx, "alice", "wrong")
	if _, err := provider.Login(ctx, "alice", "wanderlust99"); err != nil {
		t.Fatalf("Valid login failed: %v", err)
	}
	provider.Login(ctx, "alice", "wrong")
	provider.Login(ctx, "alice", "wrong")

	if _, err := provider.Login(ctx, "alice", "wanderlust99"); err != nil {
		t.Errorf("Login failed after counter should have reset: %v", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	provider, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := provider.Register(ctx, "alice", "wanderlust99", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token, err := provider.Login(ctx, "alice", "wanderlust99")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := provider.Logout(ctx, token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := provider.ValidateToken(ctx, token); err == nil {
		t.Error("Token still valid after logout")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	provider, store := newTestAuth(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "alice", "wanderlust99", "")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := store.CreateSessionToken(ctx, "stale-token", userID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	if _, err := provider.ValidateToken(ctx, "stale-token"); err == nil {
		t.Error("Expired token accepted")
	}
}
