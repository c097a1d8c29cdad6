package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/middleware"
	"github.com/platinummonkey/lightbox/pkg/notifications"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// PhotoUploader stores an uploaded original and queues it for processing
type PhotoUploader interface {
	Upload(ctx context.Context, req media.UploadRequest) (*gallery.Photo, error)
}

// MediaQueue resets photos for another processing run
type MediaQueue interface {
	Reprocess(ctx context.Context, photoID int64) (*gallery.Photo, error)
	Pending() int64
}

// Notifier delivers notification events
type Notifier interface {
	Notify(ctx context.Context, ev notifications.Event) error
}

// Config holds the HTTP settings of the API
type Config struct {
	CookieName       string
	CookieSecure     bool
	CookieDomain     string
	PublicURL        string
	TrustProxy       bool
	AllowedOrigins   []string
	VariantCacheSize int
	Tracing          bool
	Version          string
}

// Dependencies are the services the API is built on
type Dependencies struct {
	Auth          *auth.Service
	Gallery       *gallery.Service
	Uploader      PhotoUploader
	Media         MediaQueue
	Branding      *branding.Service
	Notifications *notifications.Dispatcher
	Blobs         storage.BlobStore
	Audit         audit.Logger
	AuditReader   audit.Reader
	LoginLimiter  middleware.Limiter
	Metrics       *observability.Metrics
	Logger        *observability.Logger
}

// Server represents our API server
type Server struct {
	cfg     Config
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	cache   *variantCache
}

// NewServer creates the API server and mounts every route under /api
func NewServer(deps Dependencies, cfg Config) (*Server, error) {
	if deps.Auth == nil || deps.Gallery == nil || deps.Branding == nil || deps.Notifications == nil {
		return nil, errors.New("auth, gallery, branding and notification services are required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "lightbox_session"
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}
	if deps.LoginLimiter == nil {
		deps.LoginLimiter = middleware.NewMemoryLimiter(middleware.LoginRateLimitConfig())
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
	}
	if deps.Metrics != nil {
		s.router.Use(deps.Metrics.HTTPMiddleware)
	}
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(deps.Logger, cfg.TrustProxy),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.SecurityHeadersMiddleware,
		httputil.CORSMiddleware(cfg.AllowedOrigins),
		middleware.NewSessionAuth(deps.Auth, cfg.CookieName).Handler,
		audit.NewMiddleware(deps.Audit).Handler,
	)
	s.handler = chain(s.router)
	if cfg.Tracing {
		s.handler = otelhttp.NewHandler(s.handler, "lightbox-api")
	}
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(auth.RoleAdmin))

	notifier := Notifier(s.deps.Notifications)
	cookies := sessionCookies{
		name:   s.cfg.CookieName,
		secure: s.cfg.CookieSecure,
		domain: s.cfg.CookieDomain,
	}

	NewAuthHandlers(s.deps.Auth, notifier, cookies, s.deps.LoginLimiter).RegisterRoutes(api)
	NewUserHandlers(s.deps.Auth, notifier, s.cfg.PublicURL).RegisterRoutes(admin)
	NewGalleryHandlers(s.deps.Gallery, s.deps.Uploader, s.deps.Media, notifier).RegisterRoutes(api)
	NewNotificationHandlers(s.deps.Notifications).RegisterRoutes(api)

	brandingHandlers := NewBrandingHandlers(s.deps.Branding)
	brandingHandlers.RegisterRoutes(api)
	brandingHandlers.RegisterAdminRoutes(admin)

	s.cache = newVariantCache(s.cfg.VariantCacheSize, s.deps.Metrics)
	NewPublicHandlers(s.deps.Gallery, s.deps.Branding, s.deps.Blobs, s.cache).RegisterRoutes(api)

	if s.deps.AuditReader != nil {
		audit.NewHandlers(s.deps.AuditReader).RegisterRoutes(admin)
	}
	admin.HandleFunc("/status", s.status).Methods("GET")
}

// status handles GET /api/admin/status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.deps.Auth.ActiveSessions(ctx)
	if err != nil {
		writeServiceError(w, r, err, "count active sessions")
		return
	}
	resp := map[string]interface{}{
		"version":         s.cfg.Version,
		"active_sessions": sessions,
		"server_time":     time.Now().UTC(),
	}
	if s.deps.Media != nil {
		resp["media_queue_pending"] = s.deps.Media.Pending()
	}
	httputil.WriteSuccess(w, resp)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// principal returns the signed-in caller; routes behind RequireAuth always
// have one
func principal(r *http.Request) *auth.Principal {
	return middleware.PrincipalFrom(r.Context())
}

// actorID returns a pointer to the caller's user id, or nil when anonymous
func actorID(r *http.Request) *int64 {
	p := principal(r)
	if p == nil || p.User == nil {
		return nil
	}
	id := p.User.ID
	return &id
}

func requireAuth(fn http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(fn)
}

func requireRole(role auth.Role, fn http.HandlerFunc) http.Handler {
	return middleware.RequireRole(role)(fn)
}

// recordAudit writes an audit event, logging instead of failing the request
func recordAudit(r *http.Request, event *audit.Event) {
	ctx := r.Context()
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("event_type", event.EventType).Warn("failed to record audit event")
	}
}

// notify sends a notification event, logging failures
func notify(r *http.Request, n Notifier, ev notifications.Event) {
	if n == nil {
		return
	}
	ctx := r.Context()
	if err := n.Notify(ctx, ev); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("event_type", ev.Type).Warn("failed to send notification")
	}
}
