package broker

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy.
const tokenBytes = 32

// NewToken returns a fresh URL-safe token drawn from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// fingerprintLen is how much of a long token shows up in logs.
const fingerprintLen = 8

// Fingerprint masks a token for log output. Short tokens, such as ones
// registered by hand, keep at most half of their characters.
func Fingerprint(token string) string {
	if len(token) > 2*fingerprintLen {
		return token[:fingerprintLen] + "..."
	}
	return token[:len(token)/2] + "..."
}
