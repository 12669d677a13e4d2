// Package helpers provides small utilities shared across the daemon:
// secret handling primitives and amount formatting.
package helpers

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// GenerateSecureRandom returns n cryptographically secure random bytes.
// Used for hashlock preimages, so the source is always crypto/rand.
func GenerateSecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// ConstantTimeCompare reports whether a and b are equal without leaking
// where they differ. Preimage checks go through here.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
