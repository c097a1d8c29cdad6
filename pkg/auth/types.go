package auth

import "time"

// Role is a user's global permission level
type Role string

const (
	RoleAdmin  Role = "admin"  // Manage users, branding and everything editors can
	RoleEditor Role = "editor" // Manage albums and media
	RoleViewer Role = "viewer" // Read-only access to private albums
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants everything min grants
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && r.Valid()
}

// User is an account that can sign in to the admin portal
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	Role         Role       `json:"role"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	MFAEnabled   bool       `json:"mfa_enabled"`
	TOTPSecret   string     `json:"-"`
	Locale       string     `json:"locale,omitempty"`
	WebAuthnID   string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Auth methods recorded on sessions
const (
	MethodPassword = "password"
	MethodTOTP     = "totp"
	MethodRecovery = "recovery_code"
	MethodPasskey  = "passkey"
	MethodOIDC     = "oidc"
	MethodInvite   = "invitation"
)

// Session is a signed-in browser or API client
type Session struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	TokenHash  string     `json:"-"`
	AuthMethod string     `json:"auth_method"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Current    bool       `json:"current,omitempty"`
}

// IssuedSession is a freshly created session together with its raw token.
// The token is only available at creation time.
type IssuedSession struct {
	Session *Session
	Token   string
	User    *User
}

// Invitation lets an admin onboard a new user by email
type Invitation struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	TokenHash      string     `json:"-"`
	InvitedBy      *int64     `json:"invited_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedUserID *int64     `json:"accepted_user_id,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Status summarises the invitation lifecycle
func (i *Invitation) Status(now time.Time) string {
	switch {
	case i.AcceptedAt != nil:
		return "accepted"
	case i.RevokedAt != nil:
		return "revoked"
	case !now.Before(i.ExpiresAt):
		return "expired"
	default:
		return "pending"
	}
}

// PasswordReset is a single-use password reset grant
type PasswordReset struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// PasskeyCredential is a stored WebAuthn credential
type PasskeyCredential struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	CredentialID string     `json:"credential_id"`
	Name         string     `json:"name"`
	Credential   string     `json:"-"` // JSON encoded webauthn.Credential
	SignCount    uint32     `json:"sign_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// Principal is the authenticated caller of a request
type Principal struct {
	User    *User
	Session *Session
}

// HasRole reports whether the principal's role is at least min
func (p *Principal) HasRole(min Role) bool {
	return p != nil && p.User != nil && p.User.Role.AtLeast(min)
}

// ClientMeta describes where a sign-in came from
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned by password sign-in. Exactly one of Session and
// Challenge is set.
type LoginResult struct {
	Session   *IssuedSession
	Challenge *MFAChallenge
}

// MFAChallenge is handed to the client when a second factor is required
type MFAChallenge struct {
	ID        string    `json:"challenge_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Methods   []string  `json:"methods"`
}

// TOTPSetup is returned when a user starts enrolling an authenticator app
type TOTPSetup struct {
	ChallengeID string    `json:"challenge_id"`
	Secret      string    `json:"secret"`
	URL         string    `json:"otpauth_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UserUpdate carries admin edits; nil fields are left unchanged
type UserUpdate struct {
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Role        *Role   `json:"role,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	Locale      *string `json:"locale,omitempty"`
}
