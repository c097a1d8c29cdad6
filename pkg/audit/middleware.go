package audit

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/lightbox/pkg/observability"
)

// Middleware installs the audit logger in each request context and records
// denied requests to admin endpoints and mutations. It must run after the
// session middleware so denials carry the actor.
type Middleware struct {
	logger Logger
}

// NewMiddleware creates an audit middleware
func NewMiddleware(logger Logger) *Middleware {
	return &Middleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler wraps next
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status != http.StatusForbidden && rec.status != http.StatusUnauthorized {
			return
		}
		if !shouldRecordDenial(r) {
			return
		}
		event := NewEvent(ctx, EventAccessDenied, StatusDenied).
			Target(TargetRequest, r.Method+" "+r.URL.Path).
			With("status_code", rec.status)
		if err := m.logger.Log(ctx, event); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("failed to record denied request")
		}
	})
}

// shouldRecordDenial limits denial events to admin routes and mutations;
// anonymous GETs of private media are routine and not recorded
func shouldRecordDenial(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/admin/") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/auth/") {
		return false
	}
	return r.Method != http.MethodGet && r.Method != http.MethodHead
}
