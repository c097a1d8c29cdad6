package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// PasskeyConfig describes the WebAuthn relying party
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// NewWebAuthn builds the relying party used by WithPasskeys
func NewWebAuthn(cfg PasskeyConfig) (*webauthn.WebAuthn, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return wa, nil
}

// WithPasskeys enables passkey registration and sign-in
func WithPasskeys(wa *webauthn.WebAuthn) Option {
	return func(s *Service) {
		if wa != nil {
			s.passkeys = wa
		}
	}
}

// PasskeysEnabled reports whether a relying party is configured
func (s *Service) PasskeysEnabled() bool {
	return s.passkeys != nil
}

type passkeyUser struct {
	user        *User
	records     []*PasskeyCredential
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.user.WebAuthnID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Username
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}

func (u *passkeyUser) WebAuthnIcon() string {
	return ""
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadPasskeyUser(ctx context.Context, u *User) (*passkeyUser, error) {
	records, err := s.store.ListPasskeys(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.Credential), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &passkeyUser{user: u, records: records, credentials: credentials}, nil
}

func (s *Service) storePasskeySession(ctx context.Context, kind ChallengeKind, userID int64, session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", errors.New("session data is required")
	}
	token, _, err := s.newChallenge(ctx, kind, userID, session)
	return token, err
}

func (s *Service) consumePasskeySession(ctx context.Context, token string, kind ChallengeKind) (*Challenge, webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := ValidateTokenFormat(token, PrefixChallenge); err != nil {
		return nil, session, ErrChallengeNotFound
	}
	c, err := s.challenges.Consume(ctx, HashToken(token), kind)
	if err != nil {
		return nil, session, err
	}
	if err := json.Unmarshal(c.Data, &session); err != nil {
		return nil, session, fmt.Errorf("decode passkey session: %w", err)
	}
	return c, session, nil
}

// BeginPasskeyRegistration returns creation options for the browser and the
// challenge token to send back with the attestation.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, u *User) (string, *protocol.CredentialCreation, error) {
	if s.passkeys == nil {
		return "", nil, ErrPasskeysDisabled
	}
	pu, err := s.loadPasskeyUser(ctx, u)
	if err != nil {
		return "", nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(pu.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(pu.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.passkeys.BeginRegistration(pu, options...)
	if err != nil {
		return "", nil, fmt.Errorf("begin passkey registration: %w", err)
	}
	token, err := s.storePasskeySession(ctx, KindPasskeyRegistration, u.ID, session)
	if err != nil {
		return "", nil, err
	}
	return token, creation, nil
}

// FinishPasskeyRegistration verifies the attestation and stores the credential
func (s *Service) FinishPasskeyRegistration(ctx context.Context, u *User, challengeToken string, response []byte, name string) (*PasskeyCredential, error) {
	if s.passkeys == nil {
		return nil, ErrPasskeysDisabled
	}
	c, session, err := s.consumePasskeySession(ctx, challengeToken, KindPasskeyRegistration)
	if err != nil {
		return nil, err
	}
	if c.UserID != u.ID {
		return nil, ErrChallengeNotFound
	}

	pu, err := s.loadPasskeyUser(ctx, u)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential response: %v", ErrInvalidCredentials, err)
	}
	credential, err := s.passkeys.CreateCredential(pu, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	encoded, err := json.Marshal(credential)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Passkey %d", len(pu.records)+1)
	}
	record := &PasskeyCredential{
		UserID:       u.ID,
		CredentialID: encodeCredentialID(credential.ID),
		Name:         truncate(name, 100),
		Credential:   string(encoded),
		SignCount:    credential.Authenticator.SignCount,
		CreatedAt:    s.clock(),
	}
	if err := s.store.CreatePasskey(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// BeginPasskeyLogin starts a discoverable (username-less) sign-in
func (s *Service) BeginPasskeyLogin(ctx context.Context) (string, *protocol.CredentialAssertion, error) {
	if s.passkeys == nil {
		return "", nil, ErrPasskeysDisabled
	}
	assertion, session, err := s.passkeys.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		return "", nil, fmt.Errorf("begin passkey login: %w", err)
	}
	token, err := s.storePasskeySession(ctx, KindPasskeyLogin, 0, session)
	if err != nil {
		return "", nil, err
	}
	return token, assertion, nil
}

// FinishPasskeyLogin verifies the assertion and signs the user in. A passkey
// counts as both factors, so no MFA challenge follows.
func (s *Service) FinishPasskeyLogin(ctx context.Context, challengeToken string, response []byte, meta ClientMeta) (issued *IssuedSession, err error) {
	if s.passkeys == nil {
		return nil, ErrPasskeysDisabled
	}
	defer func() {
		if err != nil {
			s.record(MethodPasskey, err)
		}
	}()

	_, session, err := s.consumePasskeySession(ctx, challengeToken, KindPasskeyLogin)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential response: %v", ErrInvalidCredentials, err)
	}

	validated, credential, err := s.passkeys.ValidatePasskeyLogin(s.passkeyUserHandler(ctx), session, parsed)
	if err != nil {
		if errors.Is(err, ErrAccountDisabled) {
			return nil, ErrAccountDisabled
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	pu, ok := validated.(*passkeyUser)
	if !ok {
		return nil, errors.New("passkey user type mismatch")
	}

	credentialID := encodeCredentialID(credential.ID)
	for _, record := range pu.records {
		if record.CredentialID != credentialID {
			continue
		}
		encoded, err := json.Marshal(credential)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdatePasskeyUsage(ctx, record.ID, string(encoded), credential.Authenticator.SignCount, s.clock()); err != nil {
			return nil, err
		}
	}
	return s.issueSession(ctx, pu.user, MethodPasskey, meta)
}

func (s *Service) passkeyUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		handle := string(userHandle)
		if strings.TrimSpace(handle) == "" {
			return nil, errors.New("user handle is required")
		}
		u, err := s.store.GetUserByWebAuthnID(ctx, handle)
		if err != nil {
			return nil, err
		}
		if !u.Active {
			return nil, ErrAccountDisabled
		}
		return s.loadPasskeyUser(ctx, u)
	}
}

// ListPasskeys returns the user's registered credentials
func (s *Service) ListPasskeys(ctx context.Context, userID int64) ([]*PasskeyCredential, error) {
	return s.store.ListPasskeys(ctx, userID)
}

// RenamePasskey relabels one of the user's credentials
func (s *Service) RenamePasskey(ctx context.Context, userID, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.store.RenamePasskey(ctx, userID, id, truncate(name, 100))
}

// DeletePasskey removes one of the user's credentials
func (s *Service) DeletePasskey(ctx context.Context, userID, id int64) error {
	return s.store.DeletePasskey(ctx, userID, id)
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
