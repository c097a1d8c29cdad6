package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Token prefixes identify what a secret grants
const (
	PrefixSession    = "lbs_"
	PrefixInvitation = "lbi_"
	PrefixReset      = "lbr_"
	PrefixChallenge  = "lbc_"

	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// GenerateToken creates an opaque secret and the hash to persist.
// Format: <prefix><base64url(32 random bytes)>
func GenerateToken(prefix string) (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 hex digest used for lookups
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks the prefix and encoding without touching storage
func ValidateTokenFormat(token, prefix string) error {
	if !strings.HasPrefix(token, prefix) {
		return fmt.Errorf("%w: expected prefix %q", ErrTokenInvalid, prefix)
	}

	encoded := strings.TrimPrefix(token, prefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrTokenInvalid)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("%w: bad length", ErrTokenInvalid)
	}
	return nil
}

// hashesEqual compares two hex digests in constant time
func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
