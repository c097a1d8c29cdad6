// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Configuration starts from built-in defaults, is optionally overlaid by a YAML
// file named by LIGHTBOX_CONFIG_FILE, and finally by LIGHTBOX_* environment
// variables. The result is validated before use.
//
// # Configuration Structure
//
// Server settings:
//
//	LIGHTBOX_HOST="0.0.0.0"
//	LIGHTBOX_PORT="8080"
//	LIGHTBOX_HEALTH_PORT="9090"
//	LIGHTBOX_PUBLIC_URL="https://photos.example.com"
//	LIGHTBOX_ALLOWED_ORIGINS="https://admin.example.com"
//	LIGHTBOX_TRUST_PROXY="true"
//
// Database and storage settings:
//
//	LIGHTBOX_DB_DRIVER="postgres"  # postgres, sqlite3
//	LIGHTBOX_DB_URL="postgres://lightbox@localhost/lightbox?sslmode=disable"
//	LIGHTBOX_STORAGE_TYPE="s3"  # filesystem, s3
//	LIGHTBOX_FILESYSTEM_ROOT="/var/lib/lightbox/media"
//	LIGHTBOX_S3_BUCKET="lightbox-media"
//	LIGHTBOX_S3_ENDPOINT="http://minio:9000"
//	LIGHTBOX_S3_USE_PATH_STYLE="true"
//	LIGHTBOX_REDIS_URL="redis://localhost:6379"
//
// Authentication settings:
//
//	LIGHTBOX_SESSION_TTL="336h"
//	LIGHTBOX_COOKIE_SECURE="true"
//	LIGHTBOX_CHALLENGE_STORE="redis"  # memory, redis
//	LIGHTBOX_WEBAUTHN_RP_ID="photos.example.com"
//	LIGHTBOX_WEBAUTHN_RP_ORIGINS="https://photos.example.com"
//	LIGHTBOX_OIDC_ENABLED="true"
//	LIGHTBOX_OIDC_ISSUER_URL="https://accounts.example.com"
//
// Media and notification settings:
//
//	LIGHTBOX_MEDIA_WORKERS="2"
//	LIGHTBOX_MAX_UPLOAD_BYTES="2147483648"
//	LIGHTBOX_FFMPEG_PATH="/usr/bin/ffmpeg"
//	LIGHTBOX_PUSH_ENABLED="true"
//	LIGHTBOX_VAPID_PUBLIC_KEY="..."
//	LIGHTBOX_VAPID_PRIVATE_KEY="..."
//	LIGHTBOX_EMAIL_ENABLED="true"
//	LIGHTBOX_SMTP_HOST="smtp.example.com"
//
// Observability settings:
//
//	LIGHTBOX_LOG_LEVEL="info"  # debug, info, warn, error
//	LIGHTBOX_METRICS_ENABLED="true"
//	LIGHTBOX_OTEL_ENABLED="true"
//	LIGHTBOX_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/app: Builds the services from a Config
//   - pkg/storage: Blob store and Redis settings
//   - pkg/observability: Logging, metrics and tracing settings
package config
