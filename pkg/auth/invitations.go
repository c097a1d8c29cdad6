package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateInvitation issues an invitation for email and hands the raw token to
// the mailer. The token is also returned so an admin can share it manually.
func (s *Service) CreateInvitation(ctx context.Context, email string, role Role, invitedBy int64) (*Invitation, string, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, "", err
	}
	if !role.Valid() {
		return nil, "", ErrInvalidRole
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}

	token, hash, err := GenerateToken(PrefixInvitation)
	if err != nil {
		return nil, "", err
	}
	now := s.clock()
	inv := &Invitation{
		Email:     email,
		Role:      role,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.InvitationTTL),
	}
	if invitedBy > 0 {
		inv.InvitedBy = &invitedBy
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, "", err
	}
	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, inv, token); err != nil {
			return inv, token, fmt.Errorf("invitation created but email failed: %w", err)
		}
	}
	return inv, token, nil
}

// GetInvitation resolves a pending invitation token for preview
func (s *Service) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	if err := ValidateTokenFormat(token, PrefixInvitation); err != nil {
		return nil, ErrTokenInvalid
	}
	inv, err := s.store.GetInvitationByHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	switch inv.Status(s.clock()) {
	case "pending":
		return inv, nil
	case "expired":
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}

// AcceptInvitation creates the invited account and signs it in
func (s *Service) AcceptInvitation(ctx context.Context, token, username, displayName, password string, meta ClientMeta) (*IssuedSession, error) {
	inv, err := s.GetInvitation(ctx, token)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePasswordPolicy(password, username, inv.Email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	u := &User{
		Username:     username,
		Email:        inv.Email,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         inv.Role,
		PasswordHash: hash,
		Active:       true,
		WebAuthnID:   uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.DisplayName == "" {
		u.DisplayName = username
	}
	if err := s.store.AcceptInvitation(ctx, inv.ID, u, now); err != nil {
		return nil, err
	}
	return s.issueSession(ctx, u, MethodInvite, meta)
}

// RevokeInvitation cancels a pending invitation
func (s *Service) RevokeInvitation(ctx context.Context, id int64) error {
	return s.store.RevokeInvitation(ctx, s.clock(), id)
}

// ListInvitations returns all invitations, newest first
func (s *Service) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	return s.store.ListInvitations(ctx)
}
