package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lightbox/pkg/database"
)

const invitationColumns = `id, email, role, token_hash, invited_by, created_at, expires_at,
		accepted_at, accepted_user_id, revoked_at`

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var invitedBy, acceptedUser sql.NullInt64
	var accepted, revoked sql.NullTime
	err := row.Scan(&inv.ID, &inv.Email, &inv.Role, &inv.TokenHash, &invitedBy, &inv.CreatedAt,
		&inv.ExpiresAt, &accepted, &acceptedUser, &revoked)
	if err != nil {
		return nil, err
	}
	inv.InvitedBy = database.Int64Ptr(invitedBy)
	inv.AcceptedUserID = database.Int64Ptr(acceptedUser)
	inv.AcceptedAt = database.TimePtr(accepted)
	inv.RevokedAt = database.TimePtr(revoked)
	return inv, nil
}

// CreateInvitation revokes any pending invitation for the same email and
// inserts inv.
func (s *Store) CreateInvitation(ctx context.Context, inv *Invitation) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE invitations SET revoked_at = $1
			WHERE LOWER(email) = LOWER($2) AND accepted_at IS NULL AND revoked_at IS NULL`,
			inv.CreatedAt, inv.Email)
		if err != nil {
			return fmt.Errorf("failed to replace pending invitation: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO invitations (email, role, token_hash, invited_by, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			inv.Email, inv.Role, inv.TokenHash, database.NullInt64(inv.InvitedBy), inv.CreatedAt, inv.ExpiresAt,
		).Scan(&inv.ID)
		if err != nil {
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		return nil
	})
}

// GetInvitationByHash loads an invitation by token hash
func (s *Store) GetInvitationByHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns invitations newest first
func (s *Store) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// RevokeInvitation revokes a pending invitation
func (s *Store) RevokeInvitation(ctx context.Context, now time.Time, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET revoked_at = $1 WHERE id = $2 AND accepted_at IS NULL AND revoked_at IS NULL`,
		now, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// AcceptInvitation creates u and marks the invitation accepted in one
// transaction. A concurrently used or revoked invitation yields ErrTokenInvalid.
func (s *Store) AcceptInvitation(ctx context.Context, invitationID int64, u *User, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE invitations SET accepted_at = $1, accepted_user_id = $2
			WHERE id = $3 AND accepted_at IS NULL AND revoked_at IS NULL`,
			now, u.ID, invitationID)
		if err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		return expectOne(result, ErrTokenInvalid)
	})
}

// CreatePasswordReset invalidates earlier unused resets for the user and
// inserts r.
func (s *Store) CreatePasswordReset(ctx context.Context, r *PasswordReset) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE password_resets SET used_at = $1 WHERE user_id = $2 AND used_at IS NULL`,
			r.CreatedAt, r.UserID)
		if err != nil {
			return fmt.Errorf("failed to invalidate resets: %w", err)
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO password_resets (user_id, token_hash, created_at, expires_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, r.UserID, r.TokenHash, r.CreatedAt, r.ExpiresAt).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("failed to create password reset: %w", err)
		}
		return nil
	})
}

// GetPasswordResetByHash loads a reset by token hash
func (s *Store) GetPasswordResetByHash(ctx context.Context, tokenHash string) (*PasswordReset, error) {
	r := &PasswordReset{}
	var used sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, used_at
		FROM password_resets WHERE token_hash = $1`, tokenHash,
	).Scan(&r.ID, &r.UserID, &r.TokenHash, &r.CreatedAt, &r.ExpiresAt, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}
	r.UsedAt = database.TimePtr(used)
	return r, nil
}

// CompletePasswordReset consumes the reset, sets the new password and revokes
// every session of the user.
func (s *Store) CompletePasswordReset(ctx context.Context, resetID, userID int64, passwordHash string, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE password_resets SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, now, resetID)
		if err != nil {
			return fmt.Errorf("failed to consume reset: %w", err)
		}
		if err := expectOne(result, ErrTokenInvalid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
			passwordHash, now, userID); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
			now, userID); err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return nil
	})
}

const passkeyColumns = `id, user_id, credential_id, name, credential, sign_count, created_at, last_used_at`

func scanPasskey(row rowScanner) (*PasskeyCredential, error) {
	p := &PasskeyCredential{}
	var lastUsed sql.NullTime
	var signCount int64
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.Name, &p.Credential, &signCount, &p.CreatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	p.SignCount = uint32(signCount)
	p.LastUsedAt = database.TimePtr(lastUsed)
	return p, nil
}

// CreatePasskey stores a newly registered credential
func (s *Store) CreatePasskey(ctx context.Context, p *PasskeyCredential) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO passkey_credentials (user_id, credential_id, name, credential, sign_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.UserID, p.CredentialID, p.Name, p.Credential, int64(p.SignCount), p.CreatedAt,
	).Scan(&p.ID)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("passkey already registered: %w", ErrTokenInvalid)
	}
	if err != nil {
		return fmt.Errorf("failed to store passkey: %w", err)
	}
	return nil
}

// ListPasskeys returns a user's credentials oldest first
func (s *Store) ListPasskeys(ctx context.Context, userID int64) ([]*PasskeyCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passkeys: %w", err)
	}
	defer rows.Close()

	var out []*PasskeyCredential
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passkey: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPasskeyByCredentialID loads a credential by its base64url id
func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (*PasskeyCredential, error) {
	p, err := scanPasskey(s.db.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE credential_id = $1`, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passkey: %w", err)
	}
	return p, nil
}

// UpdatePasskeyUsage stores the refreshed credential after a login
func (s *Store) UpdatePasskeyUsage(ctx context.Context, id int64, credential string, signCount uint32, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE passkey_credentials SET credential = $1, sign_count = $2, last_used_at = $3 WHERE id = $4`,
		credential, int64(signCount), now, id)
	if err != nil {
		return fmt.Errorf("failed to update passkey: %w", err)
	}
	return nil
}

// RenamePasskey changes the label of a user's credential
func (s *Store) RenamePasskey(ctx context.Context, userID, id int64, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE passkey_credentials SET name = $1 WHERE user_id = $2 AND id = $3`, name, userID, id)
	if err != nil {
		return fmt.Errorf("failed to rename passkey: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// DeletePasskey removes a user's credential
func (s *Store) DeletePasskey(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM passkey_credentials WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete passkey: %w", err)
	}
	return expectOne(result, ErrNotFound)
}
