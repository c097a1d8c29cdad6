package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 10

// maxPasswordBytes is bcrypt's input limit
const maxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt
type PasswordHasher struct {
	cost int
	// dummy is compared against for unknown users
	dummy []byte
}

// NewPasswordHasher creates a hasher with the given bcrypt cost
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("lightbox-dummy-password"), cost)
	return &PasswordHasher{cost: cost, dummy: dummy}
}

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Check reports whether password matches hash
func (h *PasswordHasher) Check(hash, password string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckDummy burns one comparison for an unknown account
func (h *PasswordHasher) CheckDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// ValidatePasswordPolicy enforces minimum length and rejects passwords equal
// to the username or email.
func ValidatePasswordPolicy(password, username, email string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, maxPasswordBytes)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: must not be blank", ErrWeakPassword)
	}
	lower := strings.ToLower(password)
	if username != "" && lower == strings.ToLower(username) {
		return fmt.Errorf("%w: must not match the username", ErrWeakPassword)
	}
	if email != "" && lower == strings.ToLower(email) {
		return fmt.Errorf("%w: must not match the email address", ErrWeakPassword)
	}
	return nil
}

// IsPolicyError reports whether err came from ValidatePasswordPolicy
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrWeakPassword)
}
