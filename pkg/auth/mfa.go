package auth

import (
	"context"
	"encoding/json"
	"fmt"
)

type totpSetupData struct {
	Secret string `json:"secret"`
}

// BeginTOTPSetup generates a secret for u and parks it in the challenge
// store until ConfirmTOTPSetup proves the user's app produces valid codes.
func (s *Service) BeginTOTPSetup(ctx context.Context, u *User) (*TOTPSetup, error) {
	if u.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	account := u.Email
	if account == "" {
		account = u.Username
	}
	key, err := s.totp.Generate(account)
	if err != nil {
		return nil, err
	}
	token, c, err := s.newChallenge(ctx, KindTOTPSetup, u.ID, totpSetupData{Secret: key.Secret()})
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{
		ChallengeID: token,
		Secret:      key.Secret(),
		URL:         key.URL(),
		ExpiresAt:   c.ExpiresAt,
	}, nil
}

// ConfirmTOTPSetup enables MFA once code matches the pending secret and
// returns freshly generated recovery codes.
func (s *Service) ConfirmTOTPSetup(ctx context.Context, u *User, challengeToken, code string) ([]string, error) {
	if u.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	c, err := s.loadChallenge(ctx, challengeToken, KindTOTPSetup)
	if err != nil {
		return nil, err
	}
	if c.UserID != u.ID {
		return nil, ErrChallengeNotFound
	}

	var data totpSetupData
	if err := json.Unmarshal(c.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode totp setup: %w", err)
	}
	if !s.totp.Validate(data.Secret, code, s.clock()) {
		return nil, s.failChallenge(ctx, c)
	}
	if _, err := s.challenges.Consume(ctx, c.ID, KindTOTPSetup); err != nil {
		return nil, err
	}

	codes, hashes, err := GenerateRecoveryCodes(RecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnableTOTP(ctx, u.ID, data.Secret, hashes, s.clock()); err != nil {
		return nil, err
	}
	u.MFAEnabled = true
	u.TOTPSecret = data.Secret
	return codes, nil
}

// DisableTOTP turns MFA off after re-checking the password
func (s *Service) DisableTOTP(ctx context.Context, u *User, password string) error {
	fresh, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	if !fresh.MFAEnabled {
		return ErrMFANotEnabled
	}
	if !s.hasher.Check(fresh.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	return s.store.DisableTOTP(ctx, u.ID, s.clock())
}

// RegenerateRecoveryCodes replaces the user's recovery codes
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, u *User, password string) ([]string, error) {
	fresh, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if !fresh.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if !s.hasher.Check(fresh.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	codes, hashes, err := GenerateRecoveryCodes(RecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceRecoveryCodes(ctx, u.ID, hashes, s.clock()); err != nil {
		return nil, err
	}
	return codes, nil
}

// RecoveryCodesRemaining returns how many unused recovery codes u has
func (s *Service) RecoveryCodesRemaining(ctx context.Context, u *User) (int, error) {
	return s.store.CountRecoveryCodes(ctx, u.ID)
}

// ResetUserMFA disables MFA for a user without their password (admin action)
func (s *Service) ResetUserMFA(ctx context.Context, userID int64) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.store.DisableTOTP(ctx, userID, s.clock())
}
