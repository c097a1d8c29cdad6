package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	token, tokenHash, err := GenerateToken(PrefixSession)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if !strings.HasPrefix(token, PrefixSession) {
		t.Errorf("Token should start with %q, got %q", PrefixSession, token)
	}

	// SHA256 = 64 hex chars
	if len(tokenHash) != 64 {
		t.Errorf("TokenHash length = %d, want 64", len(tokenHash))
	}

	if HashToken(token) != tokenHash {
		t.Error("HashToken should reproduce the generated hash")
	}
}

func TestGenerateToken_Uniqueness(t *testing.T) {
	tokens := make(map[string]bool)
	hashes := make(map[string]bool)

	for i := 0; i < 100; i++ {
		token, tokenHash, err := GenerateToken(PrefixInvitation)
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		if hashes[tokenHash] {
			t.Errorf("Duplicate token hash generated: %s", tokenHash)
		}
		tokens[token] = true
		hashes[tokenHash] = true
	}
}

func TestValidateTokenFormat(t *testing.T) {
	valid, _, err := GenerateToken(PrefixReset)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		prefix  string
		wantErr bool
	}{
		{"valid", valid, PrefixReset, false},
		{"wrong prefix", valid, PrefixSession, true},
		{"empty", "", PrefixReset, true},
		{"bad encoding", PrefixReset + "!!!", PrefixReset, true},
		{"too short", PrefixReset + "abcd", PrefixReset, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenFormat(tt.token, tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTokenFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("error should wrap ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func TestHashesEqual(t *testing.T) {
	a := HashToken("lbs_a")
	if !hashesEqual(a, a) {
		t.Error("identical hashes should compare equal")
	}
	if hashesEqual(a, HashToken("lbs_b")) {
		t.Error("different hashes should not compare equal")
	}
}
