package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lightbox/pkg/database"
)

// Store persists users, sessions and one-time tokens
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, username, email, display_name, role, password_hash, active,
		mfa_enabled, totp_secret, locale, webauthn_id, created_at, updated_at, last_login_at`

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var lastLogin sql.NullTime
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.Active,
		&u.MFAEnabled, &u.TOTPSecret, &u.Locale, &u.WebAuthnID, &u.CreatedAt, &u.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = database.TimePtr(lastLogin)
	return u, nil
}

func (s *Store) queryUser(ctx context.Context, where string, args ...interface{}) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.queryUser(ctx, `id = $1`, id)
}

// GetUserByLogin matches a username or email, case-insensitively
func (s *Store) GetUserByLogin(ctx context.Context, identifier string) (*User, error) {
	return s.queryUser(ctx, `LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)`, identifier)
}

// GetUserByEmail matches an email case-insensitively
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryUser(ctx, `LOWER(email) = LOWER($1)`, email)
}

// GetUserByWebAuthnID resolves a passkey user handle
func (s *Store) GetUserByWebAuthnID(ctx context.Context, handle string) (*User, error) {
	return s.queryUser(ctx, `webauthn_id = $1`, handle)
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const insertUserQuery = `
		INSERT INTO users (username, email, display_name, role, password_hash, active,
			mfa_enabled, totp_secret, locale, webauthn_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

func insertUser(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, u *User) error {
	err := q.QueryRowContext(ctx, insertUserQuery,
		u.Username, u.Email, u.DisplayName, u.Role, u.PasswordHash, u.Active,
		u.MFAEnabled, u.TOTPSecret, u.Locale, u.WebAuthnID, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if database.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateUser inserts u and sets its ID
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	return insertUser(ctx, s.db, u)
}

// UpdateUser writes the editable profile fields
func (s *Store) UpdateUser(ctx context.Context, u *User) error {
	query := `
		UPDATE users SET email = $1, display_name = $2, role = $3, active = $4, locale = $5, updated_at = $6
		WHERE id = $7`
	result, err := s.db.ExecContext(ctx, query, u.Email, u.DisplayName, u.Role, u.Active, u.Locale, u.UpdatedAt, u.ID)
	if database.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// SetPassword replaces a user's password hash
func (s *Store) SetPassword(ctx context.Context, userID int64, hash string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, now, userID)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// TouchLogin records a successful sign-in
func (s *Store) TouchLogin(ctx context.Context, userID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, now, userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// DeleteUser removes a user; sessions, passkeys and codes cascade
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// CountActiveAdmins returns the number of enabled admin accounts
func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1 AND active = $2`, RoleAdmin, true).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

// ListAdminIDs returns ids of active admins
func (s *Store) ListAdminIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE role = $1 AND active = $2 ORDER BY id`, RoleAdmin, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnableTOTP stores the confirmed secret and replaces recovery codes
func (s *Store) EnableTOTP(ctx context.Context, userID int64, secret string, codeHashes []string, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET mfa_enabled = $1, totp_secret = $2, updated_at = $3 WHERE id = $4`,
			true, secret, now, userID)
		if err != nil {
			return fmt.Errorf("failed to enable mfa: %w", err)
		}
		if err := expectOne(result, ErrNotFound); err != nil {
			return err
		}
		return replaceRecoveryCodes(ctx, tx, userID, codeHashes, now)
	})
}

// DisableTOTP clears the secret and deletes recovery codes
func (s *Store) DisableTOTP(ctx context.Context, userID int64, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET mfa_enabled = $1, totp_secret = $2, updated_at = $3 WHERE id = $4`,
			false, "", now, userID)
		if err != nil {
			return fmt.Errorf("failed to disable mfa: %w", err)
		}
		if err := expectOne(result, ErrNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete recovery codes: %w", err)
		}
		return nil
	})
}

// ReplaceRecoveryCodes swaps a user's recovery codes for a new set
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID int64, codeHashes []string, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		return replaceRecoveryCodes(ctx, tx, userID, codeHashes, now)
	})
}

func replaceRecoveryCodes(ctx context.Context, tx *sql.Tx, userID int64, codeHashes []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash, created_at) VALUES ($1, $2, $3)`,
			userID, h, now); err != nil {
			return fmt.Errorf("failed to store recovery code: %w", err)
		}
	}
	return nil
}

// HasRecoveryCode reports whether an unused code with codeHash exists
func (s *Store) HasRecoveryCode(ctx context.Context, userID int64, codeHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		userID, codeHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up recovery code: %w", err)
	}
	return n > 0, nil
}

// UseRecoveryCode marks a matching unused code as used
func (s *Store) UseRecoveryCode(ctx context.Context, userID int64, codeHash string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recovery_codes SET used_at = $1 WHERE user_id = $2 AND code_hash = $3 AND used_at IS NULL`,
		now, userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to use recovery code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CountRecoveryCodes returns how many unused codes remain
func (s *Store) CountRecoveryCodes(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return n, nil
}

const sessionColumns = `id, user_id, token_hash, auth_method, ip_address, user_agent,
		created_at, last_seen_at, expires_at, revoked_at`

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var revoked sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.AuthMethod, &sess.IPAddress,
		&sess.UserAgent, &sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt, &revoked)
	if err != nil {
		return nil, err
	}
	sess.RevokedAt = database.TimePtr(revoked)
	return sess, nil
}

// CreateSession inserts sess and sets its ID
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (user_id, token_hash, auth_method, ip_address, user_agent,
			created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := s.db.QueryRowContext(ctx, query, sess.UserID, sess.TokenHash, sess.AuthMethod,
		sess.IPAddress, sess.UserAgent, sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByHash loads a session by token hash, including revoked ones
func (s *Store) GetSessionByHash(ctx context.Context, tokenHash string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// TouchSession slides the session's last activity and expiry
func (s *Store) TouchSession(ctx context.Context, id int64, lastSeen, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = $1, expires_at = $2 WHERE id = $3`, lastSeen, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// ListActiveSessions returns unexpired, unrevoked sessions for a user
func (s *Store) ListActiveSessions(ctx context.Context, userID int64, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_seen_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RevokeSession revokes one session owned by userID
func (s *Store) RevokeSession(ctx context.Context, now time.Time, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND id = $3 AND revoked_at IS NULL`,
		now, userID, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return expectOne(result, ErrNotFound)
}

// RevokeSessionByHash revokes the session a token belongs to
func (s *Store) RevokeSessionByHash(ctx context.Context, now time.Time, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`, now, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeUserSessions revokes all of a user's sessions except exceptID (0 for none)
func (s *Store) RevokeUserSessions(ctx context.Context, now time.Time, userID, exceptID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND id <> $3 AND revoked_at IS NULL`,
		now, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return result.RowsAffected()
}

// CountActiveSessions returns the number of live sessions across all users
func (s *Store) CountActiveSessions(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE revoked_at IS NULL AND expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// PurgeCounts reports how many rows PurgeExpired removed
type PurgeCounts struct {
	Sessions    int64 `json:"sessions"`
	Invitations int64 `json:"invitations"`
	Resets      int64 `json:"password_resets"`
}

// PurgeExpired deletes dead sessions, unaccepted expired invitations and
// used or expired reset tokens.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (PurgeCounts, error) {
	var counts PurgeCounts
	steps := []struct {
		query string
		dest  *int64
	}{
		{`DELETE FROM sessions WHERE expires_at <= $1 OR revoked_at IS NOT NULL`, &counts.Sessions},
		{`DELETE FROM invitations WHERE expires_at <= $1 AND accepted_at IS NULL`, &counts.Invitations},
		{`DELETE FROM password_resets WHERE expires_at <= $1 OR used_at IS NOT NULL`, &counts.Resets},
	}
	for _, step := range steps {
		result, err := s.db.ExecContext(ctx, step.query, now)
		if err != nil {
			return counts, fmt.Errorf("failed to purge expired records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return counts, fmt.Errorf("failed to get rows affected: %w", err)
		}
		*step.dest = n
	}
	return counts, nil
}

func expectOne(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
