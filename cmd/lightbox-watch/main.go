package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/config"
	"github.com/platinummonkey/lightbox/pkg/importer"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

var (
	inbox   = flag.String("inbox", "", "Directory to watch (overrides LIGHTBOX_INBOX_DIR)")
	albumID = flag.Int64("album", 0, "Album that receives imported files (overrides LIGHTBOX_INBOX_ALBUM_ID)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if *inbox != "" {
		cfg.Importer.InboxDir = *inbox
	}
	if *albumID != 0 {
		cfg.Importer.AlbumID = *albumID
	}

	app.ConfigureLogrus(cfg.Observability.Level())
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "lightbox-watch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start")
	}
	pipeline := a.NewPipeline(context.WithoutCancel(ctx))

	imp, err := importer.New(importer.Config{
		InboxDir:    cfg.Importer.InboxDir,
		AlbumID:     cfg.Importer.AlbumID,
		UploaderID:  cfg.Importer.UploaderID,
		SettleDelay: cfg.Importer.SettleDelay,
	}, a.NewUploader(pipeline))
	if err != nil {
		_ = a.Close()
		logrus.WithError(err).Fatal("Failed to prepare inbox")
	}

	logrus.WithField("inbox", cfg.Importer.InboxDir).Info("Lightbox watch started")
	runErr := imp.Run(ctx)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("services", func(context.Context) error {
		if err := pipeline.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			logrus.WithError(err).Warn("Media pipeline did not drain")
		}
		return a.ShutdownFunc()(ctx)
	})
	if err := shutdown.Shutdown(); err != nil {
		logrus.WithError(err).Error("Shutdown failed")
	}

	if runErr != nil && ctx.Err() == nil {
		logrus.WithError(runErr).Fatal("Importer stopped")
	}
	logrus.Info("Lightbox watch stopped")
}
