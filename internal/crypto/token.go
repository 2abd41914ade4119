package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const guestTokenBytes = 32

// NewGuestToken mints an opaque url-safe guest session token.
func NewGuestToken() (string, error) {
	b, err := RandBytes(guestTokenBytes)
	if err != nil {
		return "", fmt.Errorf("guest token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the stored form of a guest token. Raw tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
