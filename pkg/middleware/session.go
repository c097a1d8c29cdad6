package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/contextkeys"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// SessionValidator resolves a raw session token to its principal
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Principal, error)
}

// SessionAuth attaches the signed-in principal to the request context.
// Requests without a valid session continue anonymously; use RequireAuth or
// RequireRole on routes that need a user.
type SessionAuth struct {
	validator  SessionValidator
	cookieName string
}

// NewSessionAuth creates session middleware reading cookieName or a Bearer header
func NewSessionAuth(validator SessionValidator, cookieName string) *SessionAuth {
	return &SessionAuth{validator: validator, cookieName: cookieName}
}

// Handler wraps next
func (m *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r, m.cookieName)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		principal, err := m.validator.ValidateSession(ctx, token)
		if err != nil {
			if !errors.Is(err, auth.ErrSessionInvalid) {
				observability.FromContext(ctx).WithError(err).Error("session lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx = contextkeys.WithPrincipal(ctx, principal)
		ctx = contextkeys.WithUserID(ctx, principal.User.ID)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).WithField("user_id", principal.User.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest returns the Bearer token if present, otherwise the
// session cookie value
func TokenFromRequest(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// PrincipalFrom returns the authenticated principal, or nil
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	return p
}

// RequireAuth rejects anonymous requests with 401
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFrom(r.Context()) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects anonymous requests with 401 and callers below min with 403
func RequireRole(min auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !p.HasRole(min) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
