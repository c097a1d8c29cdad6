package api

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

type recordingPusher struct {
	mu       sync.Mutex
	messages []string
}

func (p *recordingPusher) Send(_ context.Context, sub *notifications.PushSubscription, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, sub.Endpoint+" "+string(message))
	return nil
}

func (p *recordingPusher) PublicKey() string {
	return "BPublicKeyForTests"
}

func (p *recordingPusher) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

type notificationList struct {
	Notifications []notifications.Notification `json:"notifications"`
	Unread        int                          `json:"unread"`
}

func TestNotificationInbox(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	w := env.request(t, "GET", "/api/notifications", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, "POST", "/api/notifications/test", nil, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = env.request(t, "GET", "/api/notifications?unread=true", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var list notificationList
	decodeBody(t, w, &list)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.Unread)
	note := list.Notifications[0]
	assert.Equal(t, notifications.EventSystemTest, note.Type)
	assert.Nil(t, note.ReadAt)

	w = env.request(t, "POST", "/api/notifications/"+itoa(note.ID)+"/read", nil, token)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, "GET", "/api/notifications/unread-count", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		Unread int `json:"unread"`
	}
	decodeBody(t, w, &count)
	assert.Zero(t, count.Unread)

	w = env.request(t, "DELETE", "/api/notifications/"+itoa(note.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.request(t, "DELETE", "/api/notifications/"+itoa(note.ID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationsArePrivate(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	env.createUser(t, "bob", auth.RoleViewer)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	require.Equal(t, http.StatusAccepted, env.request(t, "POST", "/api/notifications/test", nil, alice).Code)
	w := env.request(t, "GET", "/api/notifications", nil, alice)
	var list notificationList
	decodeBody(t, w, &list)
	require.NotEmpty(t, list.Notifications)
	id := list.Notifications[0].ID

	w = env.request(t, "POST", "/api/notifications/"+itoa(id)+"/read", nil, bob)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.request(t, "DELETE", "/api/notifications/"+itoa(id), nil, bob)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkAllRead(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusAccepted, env.request(t, "POST", "/api/notifications/test", nil, token).Code)
	}
	w := env.request(t, "POST", "/api/notifications/read-all", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Updated int64 `json:"updated"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, int64(3), resp.Updated)
}

func TestNotificationPreferences(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	w := env.request(t, "GET", "/api/notifications/preferences", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var prefs struct {
		Preferences []notifications.Preference `json:"preferences"`
	}
	decodeBody(t, w, &prefs)
	assert.Len(t, prefs.Preferences, len(notifications.EventTypes))

	w = env.request(t, "PUT", "/api/notifications/preferences", map[string]interface{}{
		"preferences": []notifications.Preference{
			{EventType: notifications.EventSystemTest, InApp: false},
		},
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &prefs)
	for _, p := range prefs.Preferences {
		if p.EventType == notifications.EventSystemTest {
			assert.False(t, p.InApp)
		}
	}

	// muted in-app events do not reach the inbox
	require.Equal(t, http.StatusAccepted, env.request(t, "POST", "/api/notifications/test", nil, token).Code)
	var list notificationList
	decodeBody(t, env.request(t, "GET", "/api/notifications", nil, token), &list)
	assert.Empty(t, list.Notifications)

	w = env.request(t, "PUT", "/api/notifications/preferences", map[string]interface{}{
		"preferences": []map[string]interface{}{{"event_type": "made.up", "in_app": true}},
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "unknown_event_type", resp.Code)
}

func TestPushDisabled(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	w := env.request(t, "GET", "/api/notifications/push/public-key", nil, "")
	require.Equal(t, http.StatusNotImplemented, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "push_disabled", resp.Code)

	w = env.request(t, "POST", "/api/notifications/push/subscribe", map[string]string{
		"endpoint": "https://push.example.com/abc",
		"p256dh":   "key",
		"auth":     "secret",
	}, token)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	pusher := &recordingPusher{}
	env := newAPIEnv(t, withPusher(pusher))
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	w := env.request(t, "GET", "/api/notifications/push/public-key", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var key struct {
		PublicKey string `json:"public_key"`
	}
	decodeBody(t, w, &key)
	assert.Equal(t, "BPublicKeyForTests", key.PublicKey)

	w = env.request(t, "POST", "/api/notifications/push/subscribe", map[string]interface{}{
		"endpoint": "https://push.example.com/abc",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.request(t, "POST", "/api/notifications/push/subscribe", map[string]interface{}{
		"endpoint": "not a url",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errResp httputil.ErrorResponse
	decodeBody(t, w, &errResp)
	assert.Equal(t, "invalid_subscription", errResp.Code)

	w = env.request(t, "GET", "/api/notifications/push/subscriptions", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var subs struct {
		Subscriptions []notifications.PushSubscription `json:"subscriptions"`
	}
	decodeBody(t, w, &subs)
	require.Len(t, subs.Subscriptions, 1)

	require.Equal(t, http.StatusAccepted, env.request(t, "POST", "/api/notifications/test", nil, token).Code)
	sent := pusher.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "https://push.example.com/abc")
	assert.Contains(t, sent[0], "Test notification")

	w = env.request(t, "GET", "/api/notifications/deliveries", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "push")

	w = env.request(t, "POST", "/api/notifications/push/unsubscribe", map[string]string{"endpoint": "https://push.example.com/abc"}, token)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, "POST", "/api/notifications/push/unsubscribe", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
