// Package observability provides structured logging, Prometheus metrics, health
// probes, graceful shutdown and OpenTelemetry wiring for the Lightbox services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("album_id", id).Info("album created")
//
// Request-scoped loggers carry request_id and user_id:
//
//	observability.FromContext(r.Context()).WithError(err).Error("upload failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAuthAttempt("password", "success")
//	metrics.RecordMediaJob("image", "ready", time.Since(start))
//
// # Health
//
// HealthChecker probes the database, Redis and the blob store. Redis and blob store
// failures degrade the service; a database failure makes it unhealthy.
package observability
