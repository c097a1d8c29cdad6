package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/httputil"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "vera", auth.RoleViewer)
	env.createUser(t, "eddie", auth.RoleEditor)

	for _, username := range []string{"vera", "eddie"} {
		token := env.login(t, username)
		w := env.request(t, "GET", "/api/admin/users", nil, token)
		assert.Equal(t, http.StatusForbidden, w.Code, username)
	}

	w := env.request(t, "GET", "/api/admin/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	denied := env.auditEvents(t, audit.EventAccessDenied)
	require.Len(t, denied, 3)
	assert.Equal(t, audit.StatusDenied, denied[0].Status)
}

func TestAdminUserLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	token := env.login(t, "admin")

	w := env.request(t, "POST", "/api/admin/users", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"role":     "editor",
		"password": "carols-long-passphrase",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var carol auth.User
	decodeBody(t, w, &carol)
	assert.Equal(t, auth.RoleEditor, carol.Role)

	w = env.request(t, "POST", "/api/admin/users", map[string]string{
		"username": "carol",
		"email":    "other@example.com",
		"role":     "viewer",
		"password": "carols-long-passphrase",
	}, token)
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict httputil.ErrorResponse
	decodeBody(t, w, &conflict)
	assert.Equal(t, "username_taken", conflict.Code)

	w = env.request(t, "GET", "/api/admin/users", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Users []auth.User `json:"users"`
	}
	decodeBody(t, w, &list)
	assert.Len(t, list.Users, 2)

	carolToken := env.login(t, "carol")
	w = env.request(t, "PATCH", "/api/admin/users/"+itoa(carol.ID), map[string]interface{}{"active": false}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, env.request(t, "GET", "/api/auth/me", nil, carolToken).Code)
	assert.Len(t, env.auditEvents(t, audit.EventAdminUserDeactivated), 1)

	w = env.request(t, "DELETE", "/api/admin/users/"+itoa(carol.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.request(t, "GET", "/api/admin/users/"+itoa(carol.ID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminCannotRemoveSelf(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.createUser(t, "admin", auth.RoleAdmin)
	token := env.login(t, "admin")

	w := env.request(t, "DELETE", "/api/admin/users/"+itoa(admin.ID), nil, token)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "self_action", resp.Code)

	w = env.request(t, "PATCH", "/api/admin/users/"+itoa(admin.ID), map[string]interface{}{"role": "viewer"}, token)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminLastAdminProtected(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	other := env.createUser(t, "other", auth.RoleAdmin)
	token := env.login(t, "admin")

	// demoting one of two admins is fine
	w := env.request(t, "PATCH", "/api/admin/users/"+itoa(other.ID), map[string]interface{}{"role": "editor"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(t, "PATCH", "/api/admin/users/"+itoa(other.ID), map[string]interface{}{"role": "bogus"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminSetPasswordRevokesSessions(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	bob := env.createUser(t, "bob", auth.RoleViewer)
	token := env.login(t, "admin")
	bobToken := env.login(t, "bob")

	w := env.request(t, "POST", "/api/admin/users/"+itoa(bob.ID)+"/password", map[string]string{
		"password": "a-brand-new-passphrase",
	}, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, env.request(t, "GET", "/api/auth/me", nil, bobToken).Code)

	w = env.request(t, "POST", "/api/admin/users/"+itoa(bob.ID)+"/password", map[string]string{
		"password": "short",
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "weak_password", resp.Code)
}

func TestAdminRevokeUserSessions(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	bob := env.createUser(t, "bob", auth.RoleViewer)
	token := env.login(t, "admin")
	bobToken := env.login(t, "bob")

	w := env.request(t, "DELETE", "/api/admin/users/"+itoa(bob.ID)+"/sessions", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, env.request(t, "GET", "/api/auth/me", nil, bobToken).Code)
}

func TestAdminInvitations(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	token := env.login(t, "admin")

	w := env.request(t, "POST", "/api/admin/invitations", map[string]string{"email": "dana@example.com"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Invitation struct {
			ID     int64     `json:"id"`
			Role   auth.Role `json:"role"`
			Status string    `json:"status"`
		} `json:"invitation"`
		Token string `json:"token"`
	}
	decodeBody(t, w, &created)
	assert.Equal(t, auth.RoleViewer, created.Invitation.Role)
	assert.Equal(t, "pending", created.Invitation.Status)

	w = env.request(t, "GET", "/api/admin/invitations", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "DELETE", "/api/admin/invitations/"+itoa(created.Invitation.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.request(t, "GET", "/api/auth/invitations/"+created.Token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Len(t, env.auditEvents(t, audit.EventAdminInvitationCreated), 1)
	assert.Len(t, env.auditEvents(t, audit.EventAdminInvitationRevoked), 1)
}

func TestAdminStatus(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	token := env.login(t, "admin")

	w := env.request(t, "GET", "/api/admin/status", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Version           string `json:"version"`
		ActiveSessions    int    `json:"active_sessions"`
		MediaQueuePending int64  `json:"media_queue_pending"`
	}
	decodeBody(t, w, &status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 1, status.ActiveSessions)
	assert.Zero(t, status.MediaQueuePending)
}

func TestAdminAuditLogReadable(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "admin", auth.RoleAdmin)
	token := env.login(t, "admin")

	w := env.request(t, "POST", "/api/admin/users", map[string]string{
		"username": "erin",
		"email":    "erin@example.com",
		"role":     "viewer",
		"password": "erins-long-passphrase",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, "GET", "/api/admin/audit?event_type=admin.user_created", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "admin.user_created")
}
