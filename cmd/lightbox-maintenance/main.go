package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/config"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

var (
	runOnce         = flag.Bool("run-once", false, "Run every maintenance job once and exit")
	purgeSchedule   = flag.String("purge-schedule", "", "Cron schedule for purging expired records (overrides LIGHTBOX_PURGE_SCHEDULE)")
	requeueSchedule = flag.String("requeue-schedule", "", "Cron schedule for requeueing stuck media (overrides LIGHTBOX_REQUEUE_SCHEDULE)")
	retrySchedule   = flag.String("retry-schedule", "", "Cron schedule for retrying failed deliveries (overrides LIGHTBOX_NOTIFY_RETRY_SCHEDULE)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if *purgeSchedule != "" {
		cfg.Maintenance.PurgeSchedule = *purgeSchedule
	}
	if *requeueSchedule != "" {
		cfg.Maintenance.RequeueSchedule = *requeueSchedule
	}
	if *retrySchedule != "" {
		cfg.Maintenance.RetrySchedule = *retrySchedule
	}

	app.ConfigureLogrus(cfg.Observability.Level())
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "lightbox-maintenance")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start")
	}
	defer a.Close()

	// requeued photos are processed here, not handed to the server
	pipeline := a.NewPipeline(ctx)
	jobs := a.Maintenance(pipeline)

	if *runOnce {
		logrus.Info("Running maintenance jobs once")
		err := jobs.RunOnce(ctx)
		if serr := pipeline.Shutdown(cfg.Media.JobTimeout); serr != nil {
			logrus.WithError(serr).Warn("Media pipeline did not drain")
		}
		if err != nil {
			logrus.WithError(err).Error("Maintenance finished with errors")
			a.Close()
			os.Exit(1)
		}
		logrus.Info("Maintenance completed successfully")
		return
	}

	c := cron.New()
	if err := jobs.Schedule(ctx, c); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule maintenance jobs")
	}
	c.Start()
	logrus.Info("Lightbox maintenance started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()
	if err := pipeline.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logrus.WithError(err).Warn("Media pipeline did not drain")
	}

	logrus.Info("Maintenance stopped")
}
