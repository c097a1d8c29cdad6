package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// RecoveryCodeCount is how many recovery codes are issued on enrollment
const RecoveryCodeCount = 10

const recoveryAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// TOTPManager generates and verifies RFC 6238 codes
type TOTPManager struct {
	issuer string
	skew   uint
}

// NewTOTPManager creates a manager for the given issuer name
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer, skew: 1}
}

// Generate creates a new secret for accountName
func (m *TOTPManager) Generate(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key, nil
}

// Validate checks code against secret at now, allowing one step of drift
// either way.
func (m *TOTPManager) Validate(secret, code string, now time.Time) bool {
	code = normalizeCode(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      m.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateRecoveryCodes returns plaintext codes (shown once) and their hashes
func GenerateRecoveryCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	buf := make([]byte, 10)
	for i := 0; i < n; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		var sb strings.Builder
		for j, b := range buf {
			if j == 5 {
				sb.WriteByte('-')
			}
			sb.WriteByte(recoveryAlphabet[int(b)%len(recoveryAlphabet)])
		}
		code := sb.String()
		codes = append(codes, code)
		hashes = append(hashes, HashRecoveryCode(code))
	}
	return codes, hashes, nil
}

// HashRecoveryCode normalises and hashes a recovery code
func HashRecoveryCode(code string) string {
	return HashToken(normalizeCode(code))
}

func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	return strings.ReplaceAll(code, "-", "")
}

// looksLikeTOTP reports whether code is six digits
func looksLikeTOTP(code string) bool {
	code = normalizeCode(code)
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
