// Package app assembles the Lightbox services from a config.Config.
//
// Every binary starts the same way:
//
//	a, err := app.New(ctx, cfg, logger, app.WithMetrics(metrics))
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//
//	pipeline := a.NewPipeline(ctx)
//	uploader := a.NewUploader(pipeline)
//
// The server hands the services to pkg/api. lightbox-maintenance schedules
// a.Maintenance(pipeline) on a cron, and lightbox-watch feeds the uploader
// from an inbox directory.
package app
