package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/config"
	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/middleware"
	"github.com/platinummonkey/lightbox/pkg/notifications"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// App holds the services shared by the server and the command line tools
type App struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics

	DB         *database.DB
	Redis      *redis.Client
	Blobs      storage.BlobStore
	Cache      *storage.Cache
	Challenges auth.ChallengeStore

	Auth          *auth.Service
	Gallery       *gallery.Service
	Branding      *branding.Service
	Notifications *notifications.Dispatcher
	AuditDB       *audit.DBLogger
	Audit         audit.Logger

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option customises New
type Option func(*options)

type options struct {
	metrics     *observability.Metrics
	syncNotify  bool
	skipMigrate bool
}

// WithMetrics records service metrics into m
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSyncNotifications delivers notifications on the calling goroutine.
// Short-lived tools use it so nothing is lost when they exit.
func WithSyncNotifications() Option {
	return func(o *options) { o.syncNotify = true }
}

// WithoutMigrations skips applying the schema on startup
func WithoutMigrations() Option {
	return func(o *options) { o.skipMigrate = true }
}

// ConfigureLogrus applies the configured level to the background worker logger
func ConfigureLogrus(level observability.LogLevel) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	switch level {
	case observability.DebugLevel:
		logrus.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		logrus.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// New opens the database, blob store and optional Redis connection and
// builds every domain service on top of them. Close releases them in reverse
// order.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: o.metrics}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.onClose("database", a.DB.Close)
	if !o.skipMigrate {
		if err = a.DB.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.URL != "" {
		a.Redis, err = storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose("redis", a.Redis.Close)
	}
	a.Cache = storage.NewCache(a.Redis, cfg.Redis, a.Metrics)

	blobs, err := storage.NewBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	a.Blobs = storage.Instrument(blobs, cfg.Storage.Type, a.Metrics)

	if err = a.buildAuth(ctx); err != nil {
		return nil, err
	}

	a.Gallery = gallery.NewService(gallery.NewStore(a.DB.DB), a.Blobs,
		gallery.WithCache(a.Cache), gallery.WithLogger(logger))
	a.Branding = branding.NewService(branding.NewStore(a.DB.DB), a.Blobs, a.Cache, logger)

	if err = a.buildNotifications(o.syncNotify); err != nil {
		return nil, err
	}
	if err = a.buildAudit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildAuth(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Auth.ChallengeStore {
	case "redis":
		if a.Redis == nil {
			return errors.New("redis challenge store requires a redis URL")
		}
		a.Challenges = auth.NewRedisChallengeStore(a.Redis, cfg.Redis.KeyPrefix+"challenge:")
	default:
		mem := auth.NewMemoryChallengeStore(cfg.Auth.ChallengeSweepInterval)
		a.onClose("challenge store", mem.Close)
		a.Challenges = mem
	}

	authOpts := []auth.Option{auth.WithMetrics(a.Metrics)}
	if mailer := a.Mailer(); mailer != nil {
		authOpts = append(authOpts, auth.WithMailer(mailer))
	}

	wa, err := auth.NewWebAuthn(auth.PasskeyConfig{
		RPID:          cfg.Passkey.RPID,
		RPDisplayName: cfg.Passkey.RPDisplayName,
		RPOrigins:     cfg.Passkey.RPOrigins,
	})
	if err != nil {
		a.Logger.WithError(err).Warn("Passkeys disabled")
	} else {
		authOpts = append(authOpts, auth.WithPasskeys(wa))
	}

	if cfg.OIDC.Enabled {
		provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDC.IssuerURL,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		})
		if err != nil {
			return err
		}
		authOpts = append(authOpts, auth.WithOIDC(provider))
	}

	a.Auth = auth.NewService(auth.NewStore(a.DB.DB), a.Challenges, auth.Config{
		SessionTTL:       cfg.Auth.SessionTTL,
		ChallengeTTL:     cfg.Auth.ChallengeTTL,
		InvitationTTL:    cfg.Auth.InvitationTTL,
		PasswordResetTTL: cfg.Auth.PasswordResetTTL,
		MaxMFAAttempts:   cfg.Auth.MaxMFAAttempts,
		BcryptCost:       cfg.Auth.BcryptCost,
		MFAIssuer:        cfg.Auth.MFAIssuer,
	}, authOpts...)
	return nil
}

// Mailer returns the SMTP mailer, or nil when email is disabled
func (a *App) Mailer() *notifications.SMTPMailer {
	n := a.Config.Notifications
	if !n.EmailEnabled {
		return nil
	}
	return notifications.NewSMTPMailer(notifications.SMTPConfig{
		Host:     n.SMTPHost,
		Port:     n.SMTPPort,
		Username: n.SMTPUsername,
		Password: n.SMTPPassword,
		From:     n.SMTPFrom,
		StartTLS: n.SMTPStartTLS,
		SiteName: "Lightbox",
		BaseURL:  a.Config.Server.PublicURL,
	})
}

func (a *App) buildNotifications(sync bool) error {
	n := a.Config.Notifications
	opts := []notifications.DispatcherOption{
		notifications.WithLogger(a.Logger),
		notifications.WithMetrics(a.Metrics),
		notifications.WithRetryPolicy(notifications.NewRetryPolicy(notifications.RetryConfig{
			MaxAttempts:  n.MaxAttempts,
			InitialDelay: n.RetryInterval,
		})),
	}
	if n.PushEnabled {
		pusher, err := notifications.NewPushSender(notifications.PushConfig{
			VAPIDPublicKey:  n.VAPIDPublicKey,
			VAPIDPrivateKey: n.VAPIDPrivateKey,
			Subject:         n.VAPIDSubject,
			TTL:             n.PushTTL,
		})
		if err != nil {
			return err
		}
		opts = append(opts, notifications.WithPusher(pusher))
	}
	if mailer := a.Mailer(); mailer != nil {
		opts = append(opts, notifications.WithEmail(mailer))
	}
	if sync {
		opts = append(opts, notifications.WithSyncDelivery())
	}
	a.Notifications = notifications.NewDispatcher(notifications.NewStore(a.DB.DB), a.Auth, opts...)
	return nil
}

func (a *App) buildAudit() error {
	dbLogger, err := audit.NewDBLogger(a.DB.DB)
	if err != nil {
		return err
	}
	a.AuditDB = dbLogger
	a.Audit = dbLogger

	if dir := a.Config.Audit.FileDir; dir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{Dir: dir})
		if err != nil {
			return err
		}
		a.Audit = audit.NewMultiLogger(dbLogger, fileLogger)
	}
	a.onClose("audit", a.Audit.Close)
	return nil
}

// ImageProcessor renders the default photo variants
func (a *App) ImageProcessor() *media.ImageProcessor {
	return media.NewImageProcessor(a.Config.Media.JPEGQuality).WithMaxPixels(a.Config.Media.MaxPixels)
}

// NewPipeline starts the media worker pool. The caller owns Shutdown.
func (a *App) NewPipeline(ctx context.Context) *media.Pipeline {
	m := a.Config.Media
	images := a.ImageProcessor()
	videos := media.NewVideoProcessor(media.VideoConfig{
		FFmpegPath:  m.FFmpegPath,
		FFprobePath: m.FFprobePath,
	}, images)

	return media.NewPipeline(ctx, media.PipelineConfig{
		Workers:    m.Workers,
		QueueSize:  m.QueueSize,
		JobTimeout: m.JobTimeout,
		TempDir:    m.TempDir,
	}, a.Gallery, a.Blobs, images, videos,
		media.WithNotifier(notifications.NewMediaNotifier(a.Notifications)),
		media.WithMetrics(a.Metrics),
	)
}

// NewUploader stores originals and hands them to queue
func (a *App) NewUploader(queue media.Enqueuer) *media.Uploader {
	return media.NewUploader(a.Gallery, a.Blobs, queue, a.Config.Media.MaxUploadBytes)
}

// LoginLimiter is Redis-backed when Redis is configured so every replica
// shares the same counters
func (a *App) LoginLimiter(ctx context.Context) middleware.Limiter {
	cfg := middleware.RateLimitConfig{
		RequestsPerWindow: a.Config.Auth.LoginRateLimit,
		WindowDuration:    a.Config.Auth.LoginRateWindow,
	}
	if a.Redis != nil {
		return middleware.NewRedisLimiter(a.Redis, cfg, a.Config.Redis.KeyPrefix+"ratelimit:")
	}
	limiter := middleware.NewMemoryLimiter(cfg)
	limiter.StartCleanup(ctx)
	return limiter
}

// HealthChecker probes the database, Redis and blob store
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	return observability.NewHealthChecker(a.DB.DB, a.Redis, a.Blobs, version)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ShutdownFunc adapts Close for observability.ShutdownManager
func (a *App) ShutdownFunc() observability.ShutdownFunc {
	return func(context.Context) error {
		return a.Close()
	}
}
