package auth

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTooManyAttempts    = errors.New("too many failed attempts")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrSessionInvalid     = errors.New("session invalid or expired")
	ErrMFAAlreadyEnabled  = errors.New("two-factor authentication already enabled")
	ErrMFANotEnabled      = errors.New("two-factor authentication not enabled")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidRole        = errors.New("invalid role")
	ErrLastAdmin          = errors.New("cannot remove the last active admin")
	ErrSelfAction         = errors.New("cannot perform this action on your own account")
	ErrPasskeysDisabled   = errors.New("passkeys are not configured")
	ErrOIDCDisabled       = errors.New("single sign-on is not configured")
	ErrNoLinkedAccount    = errors.New("no active account matches this identity")
	ErrInvalidInput       = errors.New("invalid input")
)
