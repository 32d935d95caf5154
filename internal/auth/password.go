package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// checkPasswordHash verifies a password against a bcrypt hash
func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
