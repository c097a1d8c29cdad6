package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

// UserHandlers serves user and invitation administration. Routes are
// mounted on the admin-only router.
type UserHandlers struct {
	auth      *auth.Service
	notifier  Notifier
	publicURL string
	now       func() time.Time
}

// NewUserHandlers creates user administration handlers
func NewUserHandlers(svc *auth.Service, notifier Notifier, publicURL string) *UserHandlers {
	return &UserHandlers{
		auth:      svc,
		notifier:  notifier,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		now:       time.Now,
	}
}

// RegisterRoutes registers user administration routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/users", h.createUser).Methods("POST")
	router.HandleFunc("/users/{id}", h.getUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.updateUser).Methods("PATCH")
	router.HandleFunc("/users/{id}", h.deleteUser).Methods("DELETE")
	router.HandleFunc("/users/{id}/password", h.setPassword).Methods("POST")
	router.HandleFunc("/users/{id}/mfa/reset", h.resetMFA).Methods("POST")
	router.HandleFunc("/users/{id}/sessions", h.revokeSessions).Methods("DELETE")

	router.HandleFunc("/invitations", h.listInvitations).Methods("GET")
	router.HandleFunc("/invitations", h.createInvitation).Methods("POST")
	router.HandleFunc("/invitations/{id}", h.revokeInvitation).Methods("DELETE")
}

func userTarget(id int64) string {
	return strconv.FormatInt(id, 10)
}

// listUsers handles GET /api/admin/users
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list users")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// createUser handles POST /api/admin/users
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string    `json:"username"`
		Email       string    `json:"email"`
		DisplayName string    `json:"display_name"`
		Role        auth.Role `json:"role"`
		Password    string    `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("username", req.Username),
		httputil.MaxLength("username", req.Username, 64),
		httputil.Required("email", req.Email),
		httputil.Required("password", req.Password),
		httputil.OneOf("role", string(req.Role), string(auth.RoleAdmin), string(auth.RoleEditor), string(auth.RoleViewer)),
	) {
		return
	}

	u, err := h.auth.CreateUser(r.Context(), auth.NewUser{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Password:    req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err, "create user")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAdminUserCreated, audit.StatusSuccess).
		Target(audit.TargetUser, userTarget(u.ID)).
		With("username", u.Username).
		With("role", u.Role))
	httputil.WriteCreated(w, u)
}

// getUser handles GET /api/admin/users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	u, err := h.auth.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "load user")
		return
	}
	httputil.WriteSuccess(w, u)
}

// updateUser handles PATCH /api/admin/users/{id}
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var upd auth.UserUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}

	u, err := h.auth.UpdateUser(r.Context(), principal(r).User.ID, id, upd)
	if err != nil {
		writeServiceError(w, r, err, "update user")
		return
	}

	eventType := audit.EventAdminUserUpdated
	if upd.Active != nil && !*upd.Active {
		eventType = audit.EventAdminUserDeactivated
	}
	event := audit.NewEvent(r.Context(), eventType, audit.StatusSuccess).Target(audit.TargetUser, userTarget(id))
	if upd.Role != nil {
		event.With("role", *upd.Role)
	}
	if upd.Active != nil {
		event.With("active", *upd.Active)
	}
	recordAudit(r, event)
	httputil.WriteSuccess(w, u)
}

// deleteUser handles DELETE /api/admin/users/{id}
func (h *UserHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.auth.DeleteUser(r.Context(), principal(r).User.ID, id); err != nil {
		writeServiceError(w, r, err, "delete user")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAdminUserDeactivated, audit.StatusSuccess).
		Target(audit.TargetUser, userTarget(id)).
		With("deleted", true))
	httputil.WriteNoContent(w)
}

// setPassword handles POST /api/admin/users/{id}/password
func (h *UserHandlers) setPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.Required("password", req.Password)) {
		return
	}
	if err := h.auth.SetUserPassword(r.Context(), id, req.Password); err != nil {
		writeServiceError(w, r, err, "set password")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthPasswordReset, audit.StatusSuccess).
		Target(audit.TargetUser, userTarget(id)).
		With("by_admin", true))
	notify(r, h.notifier, notifications.Event{
		Type:   notifications.EventPasswordChanged,
		UserID: &id,
		Title:  "Password changed by an administrator",
		Body:   "An administrator set a new password for your account and signed out all sessions.",
	})
	httputil.WriteNoContent(w)
}

// resetMFA handles POST /api/admin/users/{id}/mfa/reset
func (h *UserHandlers) resetMFA(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.auth.ResetUserMFA(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "reset two-factor authentication")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAdminMFAReset, audit.StatusSuccess).
		Target(audit.TargetUser, userTarget(id)))
	httputil.WriteNoContent(w)
}

// revokeSessions handles DELETE /api/admin/users/{id}/sessions
func (h *UserHandlers) revokeSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	n, err := h.auth.RevokeAllSessions(r.Context(), id, 0)
	if err != nil {
		writeServiceError(w, r, err, "revoke sessions")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAuthSessionRevoked, audit.StatusSuccess).
		Target(audit.TargetUser, userTarget(id)).
		With("revoked", n))
	httputil.WriteSuccess(w, map[string]int64{"revoked": n})
}

type invitationView struct {
	*auth.Invitation
	Status string `json:"status"`
}

// listInvitations handles GET /api/admin/invitations
func (h *UserHandlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.auth.ListInvitations(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list invitations")
		return
	}
	now := h.now()
	views := make([]invitationView, len(invitations))
	for i, inv := range invitations {
		views[i] = invitationView{Invitation: inv, Status: inv.Status(now)}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invitations": views})
}

// createInvitation handles POST /api/admin/invitations. The token is
// returned once so the admin can share the link when email is off.
func (h *UserHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	if !httputil.ValidateAll(w,
		httputil.Required("email", req.Email),
		httputil.OneOf("role", string(req.Role), string(auth.RoleAdmin), string(auth.RoleEditor), string(auth.RoleViewer)),
	) {
		return
	}

	p := principal(r)
	inv, token, err := h.auth.CreateInvitation(r.Context(), req.Email, req.Role, p.User.ID)
	if err != nil {
		writeServiceError(w, r, err, "create invitation")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAdminInvitationCreated, audit.StatusSuccess).
		Target(audit.TargetInvitation, strconv.FormatInt(inv.ID, 10)).
		With("email", inv.Email).
		With("role", inv.Role))
	notify(r, h.notifier, notifications.Event{
		Type:  notifications.EventUserInvited,
		Title: "User invited",
		Body:  fmt.Sprintf("%s invited %s as %s.", p.User.Username, inv.Email, inv.Role),
		Link:  "/admin/users",
	})

	httputil.WriteCreated(w, map[string]interface{}{
		"invitation": invitationView{Invitation: inv, Status: inv.Status(h.now())},
		"token":      token,
		"accept_url": h.publicURL + "/invite/" + token,
	})
}

// revokeInvitation handles DELETE /api/admin/invitations/{id}
func (h *UserHandlers) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.auth.RevokeInvitation(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "revoke invitation")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAdminInvitationRevoked, audit.StatusSuccess).
		Target(audit.TargetInvitation, strconv.FormatInt(id, 10)))
	httputil.WriteNoContent(w)
}
