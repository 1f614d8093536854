// Package credentials manages the Basic-Auth password Traefik's admin
// entry point is configured with, grounded on the teacher's
// internal/secrets resolvers: same "read from env, validate, hand back
// a usable value" shape, generalized from resolving per-instance secret
// references to hashing a single admin password.
package credentials

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashedPassword returns a bcrypt hash usertable in Traefik's
// BasicAuth middleware users list ("user:hash"). If preHashed is
// non-empty it is returned unchanged and password is ignored, so an
// operator can supply an already-hashed credential instead of a raw
// password.
func HashedPassword(username, password, preHashed string) (string, error) {
	if preHashed != "" {
		return preHashed, nil
	}
	if password == "" {
		return "", fmt.Errorf("credentials: one of password or preHashed is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("credentials: hash password: %w", err)
	}
	return fmt.Sprintf("%s:%s", username, hash), nil
}

// Verify reports whether password matches the bcrypt hash half of a
// "user:hash" BasicAuth credential string.
func Verify(credential, password string) bool {
	idx := -1
	for i := 0; i < len(credential); i++ {
		if credential[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	hash := credential[idx+1:]
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
