package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)

// ValidateUsername accepts 3-32 lowercase letters, digits, dots, dashes and
// underscores.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 characters of a-z, 0-9, '.', '_' or '-'", ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") || len(email) > 254 {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}

// NewUser holds the fields needed to create an account directly
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
	Role        Role
	Password    string
}

// CreateUser creates an active account without an invitation. It is used by
// the admin CLI to bootstrap the first admin.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if err := ValidatePasswordPolicy(in.Password, username, email); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	u := &User{
		Username:     username,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         in.Role,
		PasswordHash: hash,
		Active:       true,
		WebAuthnID:   uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.DisplayName == "" {
		u.DisplayName = username
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns every account
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser loads one account
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// GetUserByLogin resolves a username or email
func (s *Service) GetUserByLogin(ctx context.Context, identifier string) (*User, error) {
	return s.store.GetUserByLogin(ctx, identifier)
}

// UpdateUser applies an admin edit. Admins cannot demote or disable
// themselves, and the last active admin can never lose the role.
func (s *Service) UpdateUser(ctx context.Context, actorID, id int64, upd UserUpdate) (*User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	wasAdmin := u.Role == RoleAdmin && u.Active
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, ErrInvalidRole
		}
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		if !*upd.Active && actorID == id {
			return nil, ErrSelfAction
		}
		u.Active = *upd.Active
	}
	if wasAdmin && !(u.Role == RoleAdmin && u.Active) {
		if actorID == id {
			return nil, ErrSelfAction
		}
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		other, err := s.store.GetUserByEmail(ctx, email)
		switch {
		case err == nil && other.ID != u.ID:
			return nil, ErrEmailTaken
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
		u.Email = email
	}
	if upd.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.Locale != nil {
		u.Locale = strings.TrimSpace(*upd.Locale)
	}
	u.UpdatedAt = s.clock()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	if upd.Active != nil && !u.Active {
		if _, err := s.store.RevokeUserSessions(ctx, s.clock(), u.ID, 0); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// UpdateProfile lets users edit their own display name, email and locale
func (s *Service) UpdateProfile(ctx context.Context, p *Principal, displayName, email, locale *string) (*User, error) {
	return s.UpdateUser(ctx, p.User.ID, p.User.ID, UserUpdate{
		DisplayName: displayName,
		Email:       email,
		Locale:      locale,
	})
}

// DeleteUser removes an account. Admins cannot delete themselves or the last
// active admin.
func (s *Service) DeleteUser(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return ErrSelfAction
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == RoleAdmin && u.Active {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return err
		}
	}
	return s.store.DeleteUser(ctx, id)
}

// SetUserPassword replaces a password without the current one (admin CLI)
// and signs the user out everywhere.
func (s *Service) SetUserPassword(ctx context.Context, id int64, password string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidatePasswordPolicy(password, u.Username, u.Email); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, id, hash, s.clock()); err != nil {
		return err
	}
	_, err = s.store.RevokeUserSessions(ctx, s.clock(), id, 0)
	return err
}

// AdminIDs returns the ids of active admins, used to address notifications
func (s *Service) AdminIDs(ctx context.Context) ([]int64, error) {
	return s.store.ListAdminIDs(ctx)
}

// ensureOtherAdmin fails when removing one admin would leave none
func (s *Service) ensureOtherAdmin(ctx context.Context) error {
	n, err := s.store.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}
