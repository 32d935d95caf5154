package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// generateSecureToken returns length bytes of crypto/rand output encoded
// as a URL-safe base64 string, used as an opaque session token.
func generateSecureToken(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
