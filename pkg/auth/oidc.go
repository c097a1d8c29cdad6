package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCIdentity is the verified subset of ID token claims used for sign-in
type OIDCIdentity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type oidcExchanger interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*OIDCIdentity, error)
}

// OIDCConfig configures the external identity provider
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCProvider performs the authorization code flow against one issuer
type OIDCProvider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and prepares the code exchange
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC issuer and client id are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the authorization endpoint URL for state and nonce
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades the code for tokens and verifies the ID token
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*OIDCIdentity, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("ID token nonce mismatch")
	}

	var identity OIDCIdentity
	if err := idToken.Claims(&identity); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if identity.Subject == "" {
		identity.Subject = idToken.Subject
	}
	return &identity, nil
}

// WithOIDC enables single sign-on through p
func WithOIDC(p *OIDCProvider) Option {
	return func(s *Service) {
		if p != nil {
			s.oidc = p
		}
	}
}

// OIDCEnabled reports whether single sign-on is configured
func (s *Service) OIDCEnabled() bool {
	return s.oidc != nil
}

type oidcStateData struct {
	Nonce string `json:"nonce"`
}

// BeginOIDCLogin returns the provider URL to redirect the browser to
func (s *Service) BeginOIDCLogin(ctx context.Context) (string, error) {
	if s.oidc == nil {
		return "", ErrOIDCDisabled
	}
	nonce, _, err := GenerateToken("")
	if err != nil {
		return "", err
	}
	state, _, err := s.newChallenge(ctx, KindOIDCState, 0, oidcStateData{Nonce: nonce})
	if err != nil {
		return "", err
	}
	return s.oidc.AuthCodeURL(state, nonce), nil
}

// FinishOIDCLogin completes the code flow and signs in the active user whose
// email matches the verified identity. Accounts are never created here.
func (s *Service) FinishOIDCLogin(ctx context.Context, state, code string, meta ClientMeta) (issued *IssuedSession, err error) {
	if s.oidc == nil {
		return nil, ErrOIDCDisabled
	}
	defer func() {
		if err != nil {
			s.record(MethodOIDC, err)
		}
	}()

	if err := ValidateTokenFormat(state, PrefixChallenge); err != nil {
		return nil, ErrChallengeNotFound
	}
	c, err := s.challenges.Consume(ctx, HashToken(state), KindOIDCState)
	if err != nil {
		return nil, err
	}
	var data oidcStateData
	if err := json.Unmarshal(c.Data, &data); err != nil {
		return nil, fmt.Errorf("decode oidc state: %w", err)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidCredentials)
	}

	identity, err := s.oidc.Exchange(ctx, code, data.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if identity.Email == "" || !identity.EmailVerified {
		return nil, ErrNoLinkedAccount
	}

	u, err := s.store.GetUserByEmail(ctx, identity.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoLinkedAccount
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}
	return s.issueSession(ctx, u, MethodOIDC, meta)
}
