package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// Reader queries stored audit events
type Reader interface {
	List(ctx context.Context, f Filter) ([]*Event, int64, error)
	Get(ctx context.Context, id int64) (*Event, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

// maxExport bounds a single export download
const maxExport = 10000

// Handlers serves the admin audit log API
type Handlers struct {
	reader Reader
}

// NewHandlers creates audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes mounts the audit routes on an admin-only router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
	router.HandleFunc("/audit/{id}", h.getEvent).Methods("GET")
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, total, err := h.reader.List(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list audit events")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	event, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "audit event not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get audit event")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, event)
}

func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format := ExportFormat(httputil.QueryString(r, "format", string(ExportJSON)))
	if format != ExportJSON && format != ExportCSV && format != ExportNDJSON {
		httputil.WriteBadRequest(w, "format must be json, csv or ndjson")
		return
	}

	var events []*Event
	filter.Offset = 0
	filter.Limit = maxLimit
	for len(events) < maxExport {
		page, _, err := h.reader.List(r.Context(), filter)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("failed to export audit events")
			httputil.WriteInternalError(w)
			return
		}
		events = append(events, page...)
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	contentType, ext := format.ContentType()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%s.%s",
		time.Now().UTC().Format("20060102-150405"), ext))
	if err := Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("audit export interrupted")
	}
}

func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	stats, err := h.reader.Stats(r.Context(), since)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to compute audit stats")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// ParseFilter reads a Filter from query parameters
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter

	for _, p := range []struct {
		key  string
		dest **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		if v := q.Get(p.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be an RFC 3339 timestamp", p.key)
			}
			*p.dest = &t
		}
	}

	if v := q.Get("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid actor_id: %s", v)
		}
		f.ActorID = &id
	}

	if v := q.Get("event_type"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.EventTypes = append(f.EventTypes, EventType(t))
			}
		}
	}

	switch s := Status(q.Get("status")); s {
	case "", StatusSuccess, StatusFailure, StatusDenied:
		f.Status = s
	default:
		return f, fmt.Errorf("invalid status: %s", s)
	}

	f.TargetType = TargetType(q.Get("target_type"))
	f.TargetID = q.Get("target_id")
	f.IPAddress = q.Get("ip")
	f.Search = strings.TrimSpace(q.Get("q"))

	limit, offset, err := httputil.Pagination(r, defaultLimit, maxLimit)
	if err != nil {
		return f, err
	}
	f.Limit, f.Offset = limit, offset
	return f, nil
}
