package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/lightbox/pkg/async"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/notifications"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings translates service errors into responses. The first match
// wins, so wrapped errors resolve to their most specific sentinel.
var errorMappings = []errorMapping{
	{auth.ErrNotFound, http.StatusNotFound, "not_found"},
	{gallery.ErrNotFound, http.StatusNotFound, "not_found"},
	{notifications.ErrNotFound, http.StatusNotFound, "not_found"},
	{storage.ErrObjectNotFound, http.StatusNotFound, "not_found"},
	{branding.ErrNoAsset, http.StatusNotFound, "not_found"},

	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{auth.ErrSessionInvalid, http.StatusUnauthorized, "session_invalid"},
	{auth.ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
	{auth.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{auth.ErrNoLinkedAccount, http.StatusForbidden, "no_linked_account"},
	{auth.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},

	{auth.ErrChallengeNotFound, http.StatusBadRequest, "challenge_invalid"},
	{auth.ErrChallengeExpired, http.StatusGone, "challenge_expired"},
	{auth.ErrTokenInvalid, http.StatusBadRequest, "token_invalid"},
	{auth.ErrTokenExpired, http.StatusGone, "token_expired"},

	{auth.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa_enabled"},
	{auth.ErrMFANotEnabled, http.StatusConflict, "mfa_not_enabled"},
	{auth.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{auth.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{auth.ErrLastAdmin, http.StatusConflict, "last_admin"},
	{auth.ErrSelfAction, http.StatusConflict, "self_action"},
	{gallery.ErrSlugTaken, http.StatusConflict, "slug_taken"},

	{auth.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{auth.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{gallery.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{gallery.ErrInvalidVisibility, http.StatusBadRequest, "invalid_visibility"},
	{gallery.ErrPhotoNotInAlbum, http.StatusBadRequest, "photo_not_in_album"},
	{gallery.ErrReorderMismatch, http.StatusBadRequest, "reorder_mismatch"},
	{branding.ErrInvalidColor, http.StatusBadRequest, "invalid_color"},
	{branding.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{branding.ErrUnknownAsset, http.StatusNotFound, "not_found"},
	{notifications.ErrUnknownEventType, http.StatusBadRequest, "unknown_event_type"},
	{notifications.ErrInvalidSubscription, http.StatusBadRequest, "invalid_subscription"},

	{media.ErrUnsupportedType, http.StatusUnsupportedMediaType, "unsupported_type"},
	{media.ErrEmptyUpload, http.StatusBadRequest, "empty_upload"},
	{media.ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large"},

	{auth.ErrPasskeysDisabled, http.StatusNotImplemented, "passkeys_disabled"},
	{auth.ErrOIDCDisabled, http.StatusNotImplemented, "oidc_disabled"},
	{notifications.ErrPushDisabled, http.StatusNotImplemented, "push_disabled"},

	{async.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
	{async.ErrPoolClosed, http.StatusServiceUnavailable, "shutting_down"},
}

func lookupError(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// errorCode returns the machine-readable code for err, or "" when unmapped
func errorCode(err error) string {
	m, _ := lookupError(err)
	return m.code
}

// writeServiceError answers with the status mapped from err. Unknown errors
// are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	if m, ok := lookupError(err); ok {
		httputil.WriteErrorCode(w, m.status, m.code, err.Error())
		return
	}
	observability.FromContext(r.Context()).WithError(err).Error("failed to " + action)
	httputil.WriteInternalError(w)
}
