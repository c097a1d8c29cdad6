package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/contextkeys"
)

func newAuditRouter(t *testing.T) (*mux.Router, *DBLogger, time.Time) {
	t.Helper()
	l := newSQLiteLogger(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	seedEvents(t, l, base)

	router := mux.NewRouter()
	NewHandlers(l).RegisterRoutes(router.PathPrefix("/api/admin").Subrouter())
	return router, l, base
}

func TestHandlers_List(t *testing.T) {
	router, _, _ := newAuditRouter(t)

	req := httptest.NewRequest("GET", "/api/admin/audit?event_type=auth.login_failed&limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Events []Event `json:"events"`
		Total  int64   `json:"total"`
		Limit  int     `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, 1, body.Limit)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "mallory", body.Events[0].ActorUsername)
}

func TestHandlers_ListRejectsBadFilters(t *testing.T) {
	router, _, _ := newAuditRouter(t)
	for _, q := range []string{"since=yesterday", "actor_id=abc", "status=maybe"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandlers_Get(t *testing.T) {
	router, l, _ := newAuditRouter(t)
	events, _, err := l.List(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/"+itoa(events[0].ID), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/999999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func itoa(v int64) string {
	return formatInt64Ptr(&v)
}

func TestHandlers_ExportCSV(t *testing.T) {
	router, _, _ := newAuditRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, `{"slug":"summer"}`, records[2][12])
}

func TestHandlers_ExportNDJSON(t *testing.T) {
	router, _, _ := newAuditRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/export?format=ndjson&status=failure", nil))
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/export?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Stats(t *testing.T) {
	router, _, base := newAuditRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit/stats?since="+base.Add(time.Minute).Format(time.RFC3339), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, int64(4), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.FailedLogins)
}

func TestNewEvent_ReadsRequestContext(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithClientIP(ctx, "192.0.2.4")
	ctx = contextkeys.WithUserAgent(ctx, "Firefox")
	ctx = contextkeys.WithPrincipal(ctx, &auth.Principal{User: &auth.User{ID: 9, Username: "alice"}})

	e := NewEvent(ctx, EventAlbumDeleted, StatusSuccess).Target(TargetAlbum, "3").With("photos", 12).Msg("deleted")
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "192.0.2.4", e.IPAddress)
	assert.Equal(t, "Firefox", e.UserAgent)
	assert.Equal(t, int64(9), *e.ActorID)
	assert.Equal(t, "alice", e.ActorUsername)
	assert.Equal(t, 12, e.Metadata["photos"])

	anon := NewEvent(context.Background(), EventAuthLoginFailed, StatusFailure)
	assert.Nil(t, anon.ActorID)
}

func TestRecord_UsesContextLogger(t *testing.T) {
	mem := &memoryLogger{}
	ctx := WithLogger(context.Background(), mem)

	require.NoError(t, Record(ctx, EventBrandingUpdated, TargetBranding, "1", "updated colors"))
	require.NoError(t, RecordFailure(ctx, EventAuthMFAFailed, "bad code", assert.AnError))
	require.Len(t, mem.events, 2)
	assert.Equal(t, StatusFailure, mem.events[1].Status)
	assert.Equal(t, assert.AnError.Error(), mem.events[1].Metadata["error"])

	// no logger installed
	assert.NoError(t, Record(context.Background(), EventAuthLogout, TargetSession, "1", ""))
}

func TestMiddleware_RecordsDenials(t *testing.T) {
	mem := &memoryLogger{}
	mw := NewMiddleware(mem)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mem, FromContext(r.Context()))
		switch r.URL.Path {
		case "/api/admin/users":
			w.WriteHeader(http.StatusForbidden)
		case "/api/media/1/thumb":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/admin/users"},
		{"GET", "/api/media/1/thumb"},
		{"DELETE", "/api/albums/1"},
	} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))
	}

	require.Len(t, mem.events, 1)
	assert.Equal(t, EventAccessDenied, mem.events[0].EventType)
	assert.Equal(t, "GET /api/admin/users", mem.events[0].TargetID)
	assert.Equal(t, http.StatusForbidden, mem.events[0].Metadata["status_code"])
}
