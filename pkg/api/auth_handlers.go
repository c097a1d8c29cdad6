package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/contextkeys"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/middleware"
	"github.com/platinummonkey/lightbox/pkg/notifications"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// sessionCookies writes and clears the session cookie
type sessionCookies struct {
	name   string
	secure bool
	domain string
}

func (c sessionCookies) set(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		Domain:   c.domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c sessionCookies) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// AuthHandlers handles sign-in, MFA, passkeys and session management
type AuthHandlers struct {
	auth     *auth.Service
	notifier Notifier
	cookies  sessionCookies
	limiter  middleware.Limiter
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(svc *auth.Service, notifier Notifier, cookies sessionCookies, limiter middleware.Limiter) *AuthHandlers {
	return &AuthHandlers{
		auth:     svc,
		notifier: notifier,
		cookies:  cookies,
		limiter:  limiter,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	limited := func(scope string, fn http.HandlerFunc) http.Handler {
		return middleware.RateLimit(h.limiter, scope)(fn)
	}

	// Sign-in
	router.Handle("/auth/login", limited("login", h.login)).Methods("POST")
	router.Handle("/auth/mfa/verify", limited("login", h.verifyMFA)).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
	router.Handle("/auth/me", requireAuth(h.me)).Methods("GET")
	router.Handle("/auth/me", requireAuth(h.updateProfile)).Methods("PATCH")

	// Passwords
	router.Handle("/auth/password/change", requireAuth(h.changePassword)).Methods("POST")
	router.Handle("/auth/password/forgot", limited("password-reset", h.forgotPassword)).Methods("POST")
	router.Handle("/auth/password/reset", limited("password-reset", h.resetPassword)).Methods("POST")

	// Invitations
	router.Handle("/auth/invitations/{token}", limited("invitation", h.getInvitation)).Methods("GET")
	router.Handle("/auth/invitations/{token}/accept", limited("invitation", h.acceptInvitation)).Methods("POST")

	// TOTP
	router.Handle("/auth/mfa/totp/setup", requireAuth(h.beginTOTP)).Methods("POST")
	router.Handle("/auth/mfa/totp/confirm", requireAuth(h.confirmTOTP)).Methods("POST")
	router.Handle("/auth/mfa/totp/disable", requireAuth(h.disableTOTP)).Methods("POST")
	router.Handle("/auth/mfa/recovery-codes", requireAuth(h.regenerateRecoveryCodes)).Methods("POST")

	// Passkeys
	router.Handle("/auth/passkeys/register/begin", requireAuth(h.beginPasskeyRegistration)).Methods("POST")
	router.Handle("/auth/passkeys/register/finish", requireAuth(h.finishPasskeyRegistration)).Methods("POST")
	router.Handle("/auth/passkeys/login/begin", limited("login", h.beginPasskeyLogin)).Methods("POST")
	router.Handle("/auth/passkeys/login/finish", limited("login", h.finishPasskeyLogin)).Methods("POST")
	router.Handle("/auth/passkeys", requireAuth(h.listPasskeys)).Methods("GET")
	router.Handle("/auth/passkeys/{id}", requireAuth(h.renamePasskey)).Methods("PATCH")
	router.Handle("/auth/passkeys/{id}", requireAuth(h.deletePasskey)).Methods("DELETE")

	// Sessions
	router.Handle("/auth/sessions", requireAuth(h.listSessions)).Methods("GET")
	router.Handle("/auth/sessions/{id}", requireAuth(h.revokeSession)).Methods("DELETE")
	router.Handle("/auth/sessions/revoke-others", requireAuth(h.revokeOtherSessions)).Methods("POST")

	// Single sign-on
	router.HandleFunc("/auth/oidc/login", h.oidcLogin).Methods("GET")
	router.Handle("/auth/oidc/callback", limited("login", h.oidcCallback)).Methods("GET")
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IPAddress: contextkeys.GetClientIP(r.Context()),
		UserAgent: contextkeys.GetUserAgent(r.Context()),
	}
}

// userEvent builds an audit event whose actor is u. Sign-in requests have no
// principal yet, so the actor is set explicitly.
func userEvent(r *http.Request, eventType audit.EventType, status audit.Status, u *auth.User) *audit.Event {
	event := audit.NewEvent(r.Context(), eventType, status)
	if u != nil {
		id := u.ID
		event.ActorID = &id
		event.ActorUsername = u.Username
		event.Target(audit.TargetUser, strconv.FormatInt(u.ID, 10))
	}
	return event
}

var signInEvents = map[string]audit.EventType{
	auth.MethodPassword: audit.EventAuthLogin,
	auth.MethodTOTP:     audit.EventAuthMFAVerified,
	auth.MethodRecovery: audit.EventAuthRecoveryCodeUsed,
	auth.MethodPasskey:  audit.EventAuthPasskeyLogin,
	auth.MethodOIDC:     audit.EventAuthOIDCLogin,
	auth.MethodInvite:   audit.EventAuthInvitationAccepted,
}

type sessionResponse struct {
	MFARequired bool               `json:"mfa_required"`
	Challenge   *auth.MFAChallenge `json:"challenge,omitempty"`
	User        *auth.User         `json:"user,omitempty"`
	Token       string             `json:"token,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
}

// startSession sets the cookie, records the sign-in and tells the user about
// it. The raw token is also returned for API clients using bearer auth.
func (h *AuthHandlers) startSession(w http.ResponseWriter, r *http.Request, issued *auth.IssuedSession) sessionResponse {
	h.cookies.set(w, issued.Token, issued.Session.ExpiresAt)

	eventType, ok := signInEvents[issued.Session.AuthMethod]
	if !ok {
		eventType = audit.EventAuthLogin
	}
	recordAudit(r, userEvent(r, eventType, audit.StatusSuccess, issued.User).
		With("method", issued.Session.AuthMethod).
		With("session_id", issued.Session.ID))

	meta := clientMeta(r)
	userID := issued.User.ID
	notify(r, h.notifier, notifications.Event{
		Type:   notifications.EventNewLogin,
		UserID: &userID,
		Title:  "New sign-in",
		Body:   fmt.Sprintf("Signed in with %s from %s (%s).", issued.Session.AuthMethod, orUnknown(meta.IPAddress), orUnknown(meta.UserAgent)),
		Link:   "/admin/account/sessions",
	})

	expires := issued.Session.ExpiresAt
	return sessionResponse{User: issued.User, Token: issued.Token, ExpiresAt: &expires}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Username   string `json:"username"`
		Password   string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Identifier == "" {
		req.Identifier = req.Username
	}
	if !httputil.ValidateAll(w,
		httputil.Required("identifier", req.Identifier),
		httputil.Required("password", req.Password),
	) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Identifier, req.Password, clientMeta(r))
	if err != nil {
		recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthLoginFailed, audit.StatusFailure).
			With("identifier", req.Identifier).
			With("error", err.Error()))
		writeServiceError(w, r, err, "sign in")
		return
	}
	if result.Challenge != nil {
		httputil.WriteSuccess(w, sessionResponse{MFARequired: true, Challenge: result.Challenge})
		return
	}
	httputil.WriteSuccess(w, h.startSession(w, r, result.Session))
}

// verifyMFA handles POST /api/auth/mfa/verify
func (h *AuthHandlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("challenge_id", req.ChallengeID),
		httputil.Required("code", req.Code),
	) {
		return
	}

	issued, err := h.auth.VerifyMFA(r.Context(), req.ChallengeID, req.Code, clientMeta(r))
	if err != nil {
		recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthMFAFailed, audit.StatusFailure).
			With("error", err.Error()))
		writeServiceError(w, r, err, "verify second factor")
		return
	}
	httputil.WriteSuccess(w, h.startSession(w, r, issued))
}

// logout handles POST /api/auth/logout. It always clears the cookie.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r, h.cookies.name)
	h.cookies.clear(w)
	if token == "" {
		httputil.WriteNoContent(w)
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil && !errors.Is(err, auth.ErrSessionInvalid) {
		writeServiceError(w, r, err, "sign out")
		return
	}
	if p := principal(r); p != nil {
		recordAudit(r, userEvent(r, audit.EventAuthLogout, audit.StatusSuccess, p.User))
	}
	httputil.WriteNoContent(w)
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	resp := map[string]interface{}{
		"user":             p.User,
		"session":          p.Session,
		"passkeys_enabled": h.auth.PasskeysEnabled(),
		"oidc_enabled":     h.auth.OIDCEnabled(),
	}
	if p.User.MFAEnabled {
		remaining, err := h.auth.RecoveryCodesRemaining(r.Context(), p.User)
		if err != nil {
			writeServiceError(w, r, err, "count recovery codes")
			return
		}
		resp["recovery_codes_remaining"] = remaining
	}
	httputil.WriteSuccess(w, resp)
}

// updateProfile handles PATCH /api/auth/me
func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName *string `json:"display_name"`
		Email       *string `json:"email"`
		Locale      *string `json:"locale"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	u, err := h.auth.UpdateProfile(r.Context(), principal(r), req.DisplayName, req.Email, req.Locale)
	if err != nil {
		writeServiceError(w, r, err, "update profile")
		return
	}
	httputil.WriteSuccess(w, u)
}

// changePassword handles POST /api/auth/password/change
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("current_password", req.CurrentPassword),
		httputil.Required("new_password", req.NewPassword),
	) {
		return
	}

	p := principal(r)
	if err := h.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			recordAudit(r, userEvent(r, audit.EventAuthPasswordChanged, audit.StatusFailure, p.User).
				With("error", err.Error()))
		}
		writeServiceError(w, r, err, "change password")
		return
	}

	recordAudit(r, userEvent(r, audit.EventAuthPasswordChanged, audit.StatusSuccess, p.User))
	userID := p.User.ID
	notify(r, h.notifier, notifications.Event{
		Type:   notifications.EventPasswordChanged,
		UserID: &userID,
		Title:  "Password changed",
		Body:   "Your password was changed. Other sessions have been signed out.",
		Link:   "/admin/account",
	})
	httputil.WriteNoContent(w)
}

// forgotPassword handles POST /api/auth/password/forgot. The response does
// not reveal whether the address has an account.
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.Required("email", req.Email)) {
		return
	}

	err := h.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrAccountDisabled) {
		observability.FromContext(r.Context()).WithError(err).Error("failed to send password reset")
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthPasswordResetRequest, audit.StatusSuccess).
		With("email", req.Email))
	httputil.WriteAccepted(w, map[string]string{
		"message": "if the address belongs to an account, a reset link has been sent",
	})
}

// resetPassword handles POST /api/auth/password/reset
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("token", req.Token),
		httputil.Required("password", req.Password),
	) {
		return
	}

	u, err := h.auth.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "reset password")
		return
	}
	recordAudit(r, userEvent(r, audit.EventAuthPasswordReset, audit.StatusSuccess, u))
	userID := u.ID
	notify(r, h.notifier, notifications.Event{
		Type:   notifications.EventPasswordChanged,
		UserID: &userID,
		Title:  "Password reset",
		Body:   "Your password was reset and all sessions were signed out.",
	})
	httputil.WriteNoContent(w)
}

// getInvitation handles GET /api/auth/invitations/{token}
func (h *AuthHandlers) getInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.PathStringOrError(w, r, "token")
	if !ok {
		return
	}
	inv, err := h.auth.GetInvitation(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err, "load invitation")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"email":      inv.Email,
		"role":       inv.Role,
		"expires_at": inv.ExpiresAt,
	})
}

// acceptInvitation handles POST /api/auth/invitations/{token}/accept
func (h *AuthHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.PathStringOrError(w, r, "token")
	if !ok {
		return
	}
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("username", req.Username),
		httputil.MaxLength("username", req.Username, 64),
		httputil.MaxLength("display_name", req.DisplayName, 100),
		httputil.Required("password", req.Password),
	) {
		return
	}

	issued, err := h.auth.AcceptInvitation(r.Context(), token, req.Username, req.DisplayName, req.Password, clientMeta(r))
	if err != nil {
		writeServiceError(w, r, err, "accept invitation")
		return
	}
	resp := h.startSession(w, r, issued)
	notify(r, h.notifier, notifications.Event{
		Type:  notifications.EventUserJoined,
		Title: "New user joined",
		Body:  fmt.Sprintf("%s accepted an invitation and joined as %s.", issued.User.Username, issued.User.Role),
		Link:  fmt.Sprintf("/admin/users/%d", issued.User.ID),
	})
	httputil.WriteCreated(w, resp)
}

// beginTOTP handles POST /api/auth/mfa/totp/setup
func (h *AuthHandlers) beginTOTP(w http.ResponseWriter, r *http.Request) {
	setup, err := h.auth.BeginTOTPSetup(r.Context(), principal(r).User)
	if err != nil {
		writeServiceError(w, r, err, "start authenticator setup")
		return
	}
	httputil.WriteSuccess(w, setup)
}

// confirmTOTP handles POST /api/auth/mfa/totp/confirm
func (h *AuthHandlers) confirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("challenge_id", req.ChallengeID),
		httputil.Required("code", req.Code),
	) {
		return
	}

	p := principal(r)
	codes, err := h.auth.ConfirmTOTPSetup(r.Context(), p.User, req.ChallengeID, req.Code)
	if err != nil {
		writeServiceError(w, r, err, "confirm authenticator")
		return
	}
	recordAudit(r, userEvent(r, audit.EventAuthMFAEnabled, audit.StatusSuccess, p.User))
	httputil.WriteSuccess(w, map[string]interface{}{"recovery_codes": codes})
}

// disableTOTP handles POST /api/auth/mfa/totp/disable
func (h *AuthHandlers) disableTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.Required("password", req.Password)) {
		return
	}

	p := principal(r)
	if err := h.auth.DisableTOTP(r.Context(), p.User, req.Password); err != nil {
		writeServiceError(w, r, err, "disable authenticator")
		return
	}
	recordAudit(r, userEvent(r, audit.EventAuthMFADisabled, audit.StatusSuccess, p.User))
	httputil.WriteNoContent(w)
}

// regenerateRecoveryCodes handles POST /api/auth/mfa/recovery-codes
func (h *AuthHandlers) regenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	codes, err := h.auth.RegenerateRecoveryCodes(r.Context(), principal(r).User, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "regenerate recovery codes")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"recovery_codes": codes})
}

// beginPasskeyRegistration handles POST /api/auth/passkeys/register/begin
func (h *AuthHandlers) beginPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	challengeID, options, err := h.auth.BeginPasskeyRegistration(r.Context(), principal(r).User)
	if err != nil {
		writeServiceError(w, r, err, "start passkey registration")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"challenge_id": challengeID,
		"options":      options,
	})
}

type passkeyFinishRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Name        string          `json:"name"`
	Credential  json.RawMessage `json:"credential"`
}

func (req passkeyFinishRequest) validate(w http.ResponseWriter) bool {
	details := map[string]string{}
	if req.ChallengeID == "" {
		details["challenge_id"] = "challenge_id is required"
	}
	if len(req.Credential) == 0 {
		details["credential"] = "credential is required"
	}
	if len(details) > 0 {
		httputil.WriteValidationError(w, "validation failed", details)
		return false
	}
	return true
}

// finishPasskeyRegistration handles POST /api/auth/passkeys/register/finish
func (h *AuthHandlers) finishPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	var req passkeyFinishRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	p := principal(r)
	cred, err := h.auth.FinishPasskeyRegistration(r.Context(), p.User, req.ChallengeID, req.Credential, req.Name)
	if err != nil {
		writeServiceError(w, r, err, "register passkey")
		return
	}
	recordAudit(r, userEvent(r, audit.EventAuthPasskeyRegistered, audit.StatusSuccess, p.User).
		Target(audit.TargetPasskey, strconv.FormatInt(cred.ID, 10)).
		With("name", cred.Name))
	httputil.WriteCreated(w, cred)
}

// beginPasskeyLogin handles POST /api/auth/passkeys/login/begin
func (h *AuthHandlers) beginPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	challengeID, options, err := h.auth.BeginPasskeyLogin(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "start passkey sign-in")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"challenge_id": challengeID,
		"options":      options,
	})
}

// finishPasskeyLogin handles POST /api/auth/passkeys/login/finish
func (h *AuthHandlers) finishPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	var req passkeyFinishRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	issued, err := h.auth.FinishPasskeyLogin(r.Context(), req.ChallengeID, req.Credential, clientMeta(r))
	if err != nil {
		recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthLoginFailed, audit.StatusFailure).
			With("method", auth.MethodPasskey).
			With("error", err.Error()))
		writeServiceError(w, r, err, "sign in with passkey")
		return
	}
	httputil.WriteSuccess(w, h.startSession(w, r, issued))
}

// listPasskeys handles GET /api/auth/passkeys
func (h *AuthHandlers) listPasskeys(w http.ResponseWriter, r *http.Request) {
	creds, err := h.auth.ListPasskeys(r.Context(), principal(r).User.ID)
	if err != nil {
		writeServiceError(w, r, err, "list passkeys")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"passkeys": creds})
}

// renamePasskey handles PATCH /api/auth/passkeys/{id}
func (h *AuthHandlers) renamePasskey(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("name", req.Name),
		httputil.MaxLength("name", req.Name, 100),
	) {
		return
	}
	if err := h.auth.RenamePasskey(r.Context(), principal(r).User.ID, id, req.Name); err != nil {
		writeServiceError(w, r, err, "rename passkey")
		return
	}
	httputil.WriteNoContent(w)
}

// deletePasskey handles DELETE /api/auth/passkeys/{id}
func (h *AuthHandlers) deletePasskey(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	p := principal(r)
	if err := h.auth.DeletePasskey(r.Context(), p.User.ID, id); err != nil {
		writeServiceError(w, r, err, "delete passkey")
		return
	}
	recordAudit(r, userEvent(r, audit.EventAuthPasskeyRemoved, audit.StatusSuccess, p.User).
		Target(audit.TargetPasskey, strconv.FormatInt(id, 10)))
	httputil.WriteNoContent(w)
}

// listSessions handles GET /api/auth/sessions
func (h *AuthHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.auth.ListSessions(r.Context(), principal(r))
	if err != nil {
		writeServiceError(w, r, err, "list sessions")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": sessions})
}

// revokeSession handles DELETE /api/auth/sessions/{id}
func (h *AuthHandlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	p := principal(r)
	if err := h.auth.RevokeSession(r.Context(), p.User.ID, id); err != nil {
		writeServiceError(w, r, err, "revoke session")
		return
	}
	if p.Session != nil && p.Session.ID == id {
		h.cookies.clear(w)
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthSessionRevoked, audit.StatusSuccess).
		Target(audit.TargetSession, strconv.FormatInt(id, 10)))
	httputil.WriteNoContent(w)
}

// revokeOtherSessions handles POST /api/auth/sessions/revoke-others
func (h *AuthHandlers) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var current int64
	if p.Session != nil {
		current = p.Session.ID
	}
	n, err := h.auth.RevokeAllSessions(r.Context(), p.User.ID, current)
	if err != nil {
		writeServiceError(w, r, err, "revoke sessions")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthSessionRevoked, audit.StatusSuccess).
		Target(audit.TargetUser, strconv.FormatInt(p.User.ID, 10)).
		With("revoked", n))
	httputil.WriteSuccess(w, map[string]int64{"revoked": n})
}

// oidcLogin handles GET /api/auth/oidc/login
func (h *AuthHandlers) oidcLogin(w http.ResponseWriter, r *http.Request) {
	target, err := h.auth.BeginOIDCLogin(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "start single sign-on")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// oidcCallback handles GET /api/auth/oidc/callback. The browser is sent back
// to the admin app either way; failures carry an error code.
func (h *AuthHandlers) oidcCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		http.Redirect(w, r, "/admin/login?error="+url.QueryEscape(providerErr), http.StatusFound)
		return
	}

	issued, err := h.auth.FinishOIDCLogin(r.Context(), q.Get("state"), q.Get("code"), clientMeta(r))
	if err != nil {
		recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthLoginFailed, audit.StatusFailure).
			With("method", auth.MethodOIDC).
			With("error", err.Error()))
		code := errorCode(err)
		if code == "" {
			observability.FromContext(r.Context()).WithError(err).Error("failed to complete single sign-on")
			code = "internal_error"
		}
		http.Redirect(w, r, "/admin/login?error="+code, http.StatusFound)
		return
	}
	h.startSession(w, r, issued)
	http.Redirect(w, r, "/admin", http.StatusFound)
}
