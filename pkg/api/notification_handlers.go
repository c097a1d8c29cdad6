package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

// NotificationHandlers serves the signed-in user's notifications, push
// subscriptions and preferences
type NotificationHandlers struct {
	dispatcher *notifications.Dispatcher
}

// NewNotificationHandlers creates notification handlers
func NewNotificationHandlers(d *notifications.Dispatcher) *NotificationHandlers {
	return &NotificationHandlers{dispatcher: d}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/notifications", requireAuth(h.list)).Methods("GET")
	router.Handle("/notifications/unread-count", requireAuth(h.unreadCount)).Methods("GET")
	router.Handle("/notifications/read-all", requireAuth(h.markAllRead)).Methods("POST")
	router.Handle("/notifications/test", requireAuth(h.sendTest)).Methods("POST")
	router.Handle("/notifications/deliveries", requireAuth(h.deliveries)).Methods("GET")
	router.Handle("/notifications/preferences", requireAuth(h.getPreferences)).Methods("GET")
	router.Handle("/notifications/preferences", requireAuth(h.updatePreferences)).Methods("PUT")
	router.Handle("/notifications/{id:[0-9]+}/read", requireAuth(h.markRead)).Methods("POST")
	router.Handle("/notifications/{id:[0-9]+}", requireAuth(h.delete)).Methods("DELETE")

	router.HandleFunc("/notifications/push/public-key", h.publicKey).Methods("GET")
	router.Handle("/notifications/push/subscriptions", requireAuth(h.listSubscriptions)).Methods("GET")
	router.Handle("/notifications/push/subscribe", requireAuth(h.subscribe)).Methods("POST")
	router.Handle("/notifications/push/unsubscribe", requireAuth(h.unsubscribe)).Methods("POST")
}

func userID(r *http.Request) int64 {
	return principal(r).User.ID
}

// list handles GET /api/notifications
func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.Pagination(r, 50, 200)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	unreadOnly, err := httputil.QueryBool(r, "unread", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	notes, err := h.dispatcher.List(ctx, userID(r), unreadOnly, limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "list notifications")
		return
	}
	unread, err := h.dispatcher.UnreadCount(ctx, userID(r))
	if err != nil {
		writeServiceError(w, r, err, "count notifications")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"notifications": notes,
		"unread":        unread,
		"limit":         limit,
		"offset":        offset,
	})
}

// unreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.UnreadCount(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err, "count notifications")
		return
	}
	httputil.WriteSuccess(w, map[string]int{"unread": n})
}

// markRead handles POST /api/notifications/{id}/read
func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.dispatcher.MarkRead(r.Context(), userID(r), id); err != nil {
		writeServiceError(w, r, err, "mark notification read")
		return
	}
	httputil.WriteNoContent(w)
}

// markAllRead handles POST /api/notifications/read-all
func (h *NotificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.MarkAllRead(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err, "mark notifications read")
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"updated": n})
}

// delete handles DELETE /api/notifications/{id}
func (h *NotificationHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.dispatcher.Delete(r.Context(), userID(r), id); err != nil {
		writeServiceError(w, r, err, "delete notification")
		return
	}
	httputil.WriteNoContent(w)
}

// sendTest handles POST /api/notifications/test
func (h *NotificationHandlers) sendTest(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.SendTest(r.Context(), userID(r)); err != nil {
		writeServiceError(w, r, err, "send test notification")
		return
	}
	httputil.WriteAccepted(w, map[string]string{"status": "sent"})
}

// deliveries handles GET /api/notifications/deliveries
func (h *NotificationHandlers) deliveries(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	dels, err := h.dispatcher.Deliveries(r.Context(), userID(r), limit)
	if err != nil {
		writeServiceError(w, r, err, "list deliveries")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"deliveries": dels})
}

// getPreferences handles GET /api/notifications/preferences
func (h *NotificationHandlers) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.dispatcher.Preferences(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err, "load notification preferences")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"preferences": prefs})
}

// updatePreferences handles PUT /api/notifications/preferences
func (h *NotificationHandlers) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preferences []notifications.Preference `json:"preferences"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	prefs, err := h.dispatcher.UpdatePreferences(r.Context(), userID(r), req.Preferences)
	if err != nil {
		writeServiceError(w, r, err, "save notification preferences")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"preferences": prefs})
}

// publicKey handles GET /api/notifications/push/public-key
func (h *NotificationHandlers) publicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.dispatcher.VAPIDPublicKey()
	if err != nil {
		writeServiceError(w, r, err, "load push key")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"public_key": key})
}

// listSubscriptions handles GET /api/notifications/push/subscriptions
func (h *NotificationHandlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.dispatcher.Subscriptions(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err, "list push subscriptions")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"subscriptions": subs})
}

// subscriptionRequest accepts the browser's PushSubscription.toJSON() shape
// as well as flat keys
type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// subscribe handles POST /api/notifications/push/subscribe
func (h *NotificationHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub := &notifications.PushSubscription{
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: r.UserAgent(),
	}
	if sub.P256dh == "" {
		sub.P256dh = req.P256dh
	}
	if sub.Auth == "" {
		sub.Auth = req.Auth
	}
	if err := h.dispatcher.Subscribe(r.Context(), userID(r), sub); err != nil {
		writeServiceError(w, r, err, "subscribe to push")
		return
	}
	httputil.WriteCreated(w, sub)
}

// unsubscribe handles POST /api/notifications/push/unsubscribe
func (h *NotificationHandlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.Required("endpoint", req.Endpoint)) {
		return
	}
	if err := h.dispatcher.Unsubscribe(r.Context(), userID(r), req.Endpoint); err != nil {
		writeServiceError(w, r, err, "unsubscribe from push")
		return
	}
	httputil.WriteNoContent(w)
}
