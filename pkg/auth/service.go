package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/lightbox/pkg/observability"
)

// Config holds lifetimes and limits for the auth flows
type Config struct {
	SessionTTL       time.Duration
	ChallengeTTL     time.Duration
	InvitationTTL    time.Duration
	PasswordResetTTL time.Duration
	MaxMFAAttempts   int
	BcryptCost       int
	MFAIssuer        string
}

// DefaultConfig mirrors the server defaults
func DefaultConfig() Config {
	return Config{
		SessionTTL:       14 * 24 * time.Hour,
		ChallengeTTL:     5 * time.Minute,
		InvitationTTL:    72 * time.Hour,
		PasswordResetTTL: time.Hour,
		MaxMFAAttempts:   5,
		BcryptCost:       12,
		MFAIssuer:        "Lightbox",
	}
}

// sessionTouchInterval limits last_seen_at writes to one per interval
const sessionTouchInterval = time.Minute

// Mailer delivers the emails that carry one-time tokens
type Mailer interface {
	SendInvitation(ctx context.Context, inv *Invitation, token string) error
	SendPasswordReset(ctx context.Context, u *User, token string) error
}

// Service implements sign-in, MFA, passkeys, invitations, password resets
// and session management.
type Service struct {
	store      *Store
	challenges ChallengeStore
	hasher     *PasswordHasher
	totp       *TOTPManager
	passkeys   passkeyProvider
	parser     passkeyParser
	oidc       oidcExchanger
	mailer     Mailer
	metrics    *observability.Metrics
	cfg        Config
	now        func() time.Time
}

// Option customises a Service
type Option func(*Service)

// WithMailer sets the delivery channel for invitation and reset emails
func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithMetrics records auth attempts
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the auth flows over store and challenges
func NewService(store *Store, challenges ChallengeStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:      store,
		challenges: challenges,
		hasher:     NewPasswordHasher(cfg.BcryptCost),
		totp:       NewTOTPManager(cfg.MFAIssuer),
		parser:     defaultPasskeyParser{},
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) record(method string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrTooManyAttempts):
		outcome = "locked"
	case errors.Is(err, ErrAccountDisabled):
		outcome = "disabled"
	default:
		outcome = "failure"
	}
	s.metrics.RecordAuthAttempt(method, outcome)
}

// newChallenge stores a challenge and returns the token for the client
func (s *Service) newChallenge(ctx context.Context, kind ChallengeKind, userID int64, data interface{}) (string, *Challenge, error) {
	token, hash, err := GenerateToken(PrefixChallenge)
	if err != nil {
		return "", nil, err
	}
	c := &Challenge{
		ID:        hash,
		Kind:      kind,
		UserID:    userID,
		ExpiresAt: s.clock().Add(s.cfg.ChallengeTTL),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode challenge data: %w", err)
		}
		c.Data = raw
	}
	if err := s.challenges.Put(ctx, c); err != nil {
		return "", nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return token, c, nil
}

// loadChallenge resolves a client token to a live challenge of kind
func (s *Service) loadChallenge(ctx context.Context, token string, kind ChallengeKind) (*Challenge, error) {
	if err := ValidateTokenFormat(token, PrefixChallenge); err != nil {
		return nil, ErrChallengeNotFound
	}
	c, err := s.challenges.Get(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

// failChallenge counts a wrong answer
func (s *Service) failChallenge(ctx context.Context, c *Challenge) error {
	exceeded, err := s.challenges.RecordFailure(ctx, c.ID, s.cfg.MaxMFAAttempts)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

// Login verifies a password. Users with MFA enabled receive a challenge
// instead of a session.
func (s *Service) Login(ctx context.Context, identifier, password string, meta ClientMeta) (result *LoginResult, err error) {
	defer func() {
		if err != nil {
			s.record(MethodPassword, err)
		}
	}()

	u, err := s.store.GetUserByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.hasher.CheckDummy(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Check(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}

	if u.MFAEnabled {
		token, c, err := s.newChallenge(ctx, KindMFALogin, u.ID, nil)
		if err != nil {
			return nil, err
		}
		methods := []string{MethodTOTP, MethodRecovery}
		return &LoginResult{Challenge: &MFAChallenge{ID: token, ExpiresAt: c.ExpiresAt, Methods: methods}}, nil
	}

	issued, err := s.issueSession(ctx, u, MethodPassword, meta)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: issued}, nil
}

// VerifyMFA completes a password sign-in with a TOTP or recovery code
func (s *Service) VerifyMFA(ctx context.Context, challengeToken, code string, meta ClientMeta) (issued *IssuedSession, err error) {
	defer func() {
		if err != nil {
			s.record(MethodTOTP, err)
		}
	}()

	c, err := s.loadChallenge(ctx, challengeToken, KindMFALogin)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		_ = s.challenges.Delete(ctx, c.ID)
		return nil, ErrAccountDisabled
	}

	method := ""
	switch {
	case looksLikeTOTP(code) && s.totp.Validate(u.TOTPSecret, code, s.clock()):
		method = MethodTOTP
	default:
		ok, err := s.store.HasRecoveryCode(ctx, u.ID, HashRecoveryCode(code))
		if err != nil {
			return nil, err
		}
		if ok {
			method = MethodRecovery
		}
	}
	if method == "" {
		return nil, s.failChallenge(ctx, c)
	}

	// the challenge is consumed before a recovery code is spent
	if _, err := s.challenges.Consume(ctx, c.ID, KindMFALogin); err != nil {
		return nil, err
	}
	if method == MethodRecovery {
		used, err := s.store.UseRecoveryCode(ctx, u.ID, HashRecoveryCode(code), s.clock())
		if err != nil {
			return nil, err
		}
		if !used {
			return nil, ErrInvalidCode
		}
	}
	return s.issueSession(ctx, u, method, meta)
}

// issueSession creates a session row and returns the raw token once
func (s *Service) issueSession(ctx context.Context, u *User, method string, meta ClientMeta) (*IssuedSession, error) {
	token, hash, err := GenerateToken(PrefixSession)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	sess := &Session{
		UserID:     u.ID,
		TokenHash:  hash,
		AuthMethod: method,
		IPAddress:  meta.IPAddress,
		UserAgent:  truncate(meta.UserAgent, 512),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now
	s.record(method, nil)
	return &IssuedSession{Session: sess, Token: token, User: u}, nil
}

// ValidateSession resolves a session token to its principal and slides the
// session's expiry forward.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Principal, error) {
	if err := ValidateTokenFormat(token, PrefixSession); err != nil {
		return nil, ErrSessionInvalid
	}
	hash := HashToken(token)
	sess, err := s.store.GetSessionByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if !hashesEqual(sess.TokenHash, hash) || sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return nil, ErrSessionInvalid
	}

	u, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrSessionInvalid
	}

	if now.Sub(sess.LastSeenAt) >= sessionTouchInterval {
		sess.LastSeenAt = now
		sess.ExpiresAt = now.Add(s.cfg.SessionTTL)
		if err := s.store.TouchSession(ctx, sess.ID, sess.LastSeenAt, sess.ExpiresAt); err != nil {
			return nil, err
		}
	}
	return &Principal{User: u, Session: sess}, nil
}

// Logout revokes the session a token belongs to
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := ValidateTokenFormat(token, PrefixSession); err != nil {
		return nil
	}
	return s.store.RevokeSessionByHash(ctx, s.clock(), HashToken(token))
}

// ListSessions returns the principal's live sessions, flagging the current one
func (s *Service) ListSessions(ctx context.Context, p *Principal) ([]*Session, error) {
	sessions, err := s.store.ListActiveSessions(ctx, p.User.ID, s.clock())
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		sess.Current = p.Session != nil && sess.ID == p.Session.ID
	}
	return sessions, nil
}

// RevokeSession revokes one of the user's sessions
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	return s.store.RevokeSession(ctx, s.clock(), userID, sessionID)
}

// RevokeAllSessions revokes every session of userID except exceptID
func (s *Service) RevokeAllSessions(ctx context.Context, userID, exceptID int64) (int64, error) {
	return s.store.RevokeUserSessions(ctx, s.clock(), userID, exceptID)
}

// ChangePassword verifies the current password, stores the new one and
// revokes the user's other sessions.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	u, err := s.store.GetUser(ctx, p.User.ID)
	if err != nil {
		return err
	}
	if !s.hasher.Check(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePasswordPolicy(next, u.Username, u.Email); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, u.ID, hash, s.clock()); err != nil {
		return err
	}
	var keep int64
	if p.Session != nil {
		keep = p.Session.ID
	}
	_, err = s.store.RevokeUserSessions(ctx, s.clock(), u.ID, keep)
	return err
}

// PurgeExpired removes expired sessions, invitations and reset tokens
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (PurgeCounts, error) {
	return s.store.PurgeExpired(ctx, now.UTC())
}

// ActiveSessions counts live sessions for the active sessions gauge
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.store.CountActiveSessions(ctx, s.clock())
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
