package auth

import (
	"context"
	"errors"
	"strings"
)

// RequestPasswordReset creates a reset token for an active user and mails it.
// Unknown or disabled accounts return nil so callers cannot probe for users.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return nil
	}

	token, hash, err := GenerateToken(PrefixReset)
	if err != nil {
		return err
	}
	now := s.clock()
	reset := &PasswordReset{
		UserID:    u.ID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.PasswordResetTTL),
	}
	if err := s.store.CreatePasswordReset(ctx, reset); err != nil {
		return err
	}
	if s.mailer == nil {
		return nil
	}
	return s.mailer.SendPasswordReset(ctx, u, token)
}

// ResetPassword redeems a reset token, sets the new password and signs the
// user out everywhere. It returns the affected user.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (*User, error) {
	if err := ValidateTokenFormat(token, PrefixReset); err != nil {
		return nil, ErrTokenInvalid
	}
	reset, err := s.store.GetPasswordResetByHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if reset.UsedAt != nil {
		return nil, ErrTokenInvalid
	}
	now := s.clock()
	if !now.Before(reset.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	u, err := s.store.GetUser(ctx, reset.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}
	if err := ValidatePasswordPolicy(password, u.Username, u.Email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	if err := s.store.CompletePasswordReset(ctx, reset.ID, u.ID, hash, now); err != nil {
		return nil, err
	}
	return u, nil
}
