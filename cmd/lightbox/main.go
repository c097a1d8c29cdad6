package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/lightbox/pkg/api"
	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/config"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "lightbox")
	app.ConfigureLogrus(cfg.Observability.Level())

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server stopped with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Observability.OTelServiceVersion == "dev" {
		cfg.Observability.OTelServiceVersion = version
	}
	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	a, err := app.New(ctx, cfg, logger, app.WithMetrics(metrics))
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"database": cfg.Database.Driver,
		"storage":  cfg.Storage.Type,
		"redis":    a.Redis != nil,
	}).Info("Connected to backing services")

	pipeline := a.NewPipeline(ctx)
	retry := a.Notifications.StartRetryWorker(ctx, cfg.Notifications.RetryInterval)

	server, err := api.NewServer(api.Dependencies{
		Auth:          a.Auth,
		Gallery:       a.Gallery,
		Uploader:      a.NewUploader(pipeline),
		Media:         pipeline,
		Branding:      a.Branding,
		Notifications: a.Notifications,
		Blobs:         a.Blobs,
		Audit:         a.Audit,
		AuditReader:   a.AuditDB,
		LoginLimiter:  a.LoginLimiter(ctx),
		Metrics:       metrics,
		Logger:        logger,
	}, api.Config{
		CookieName:       cfg.Auth.CookieName,
		CookieSecure:     cfg.Auth.CookieSecure,
		CookieDomain:     cfg.Auth.CookieDomain,
		PublicURL:        cfg.Server.PublicURL,
		TrustProxy:       cfg.Server.TrustProxy,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		VariantCacheSize: cfg.Media.VariantCacheSize,
		Tracing:          cfg.Observability.OTelEnabled,
		Version:          version,
	})
	if err != nil {
		_ = a.Close()
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var healthServer *http.Server
	if cfg.Server.HealthPort != "" {
		opsMux := http.NewServeMux()
		observability.RegisterHealthRoutes(opsMux, a.HealthChecker(version), metrics)
		healthServer = &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler: opsMux,
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	// workers drain before the database closes
	shutdown.Register("services", func(context.Context) error {
		retry.Stop()
		err := pipeline.Shutdown(cfg.Server.ShutdownTimeout)
		return errors.Join(err, a.Close())
	})
	if otelProviders != nil {
		shutdown.Register("opentelemetry", otelProviders.Shutdown)
	}

	if healthServer != nil {
		go func() {
			defer observability.RecoverPanic(logger, "health server")
			logger.Infof("Health and metrics listening on %s", healthServer.Addr)
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Health server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "api server")
		logger.Infof("Lightbox %s listening on %s", version, apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		_ = shutdown.Shutdown()
		return err
	case err := <-waitErr:
		logger.Info("Lightbox stopped")
		return err
	}
}
