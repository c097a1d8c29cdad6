package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      database.Config     `yaml:"database"`
	Storage       storage.Config      `yaml:"storage"`
	Redis         storage.RedisConfig `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Passkey       PasskeyConfig       `yaml:"passkey"`
	Media         MediaConfig         `yaml:"media"`
	Notifications NotificationConfig  `yaml:"notifications"`
	OIDC          OIDCConfig          `yaml:"oidc"`
	Importer      ImporterConfig      `yaml:"importer"`
	Audit         AuditConfig         `yaml:"audit"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	HealthPort      string        `yaml:"health_port"`
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	LocalesDir      string        `yaml:"locales_dir"`
}

// AuthConfig holds session, token and MFA settings
type AuthConfig struct {
	SessionTTL             time.Duration `yaml:"session_ttl"`
	CookieName             string        `yaml:"cookie_name"`
	CookieSecure           bool          `yaml:"cookie_secure"`
	CookieDomain           string        `yaml:"cookie_domain"`
	BcryptCost             int           `yaml:"bcrypt_cost"`
	MFAIssuer              string        `yaml:"mfa_issuer"`
	ChallengeStore         string        `yaml:"challenge_store"` // "memory" or "redis"
	ChallengeTTL           time.Duration `yaml:"challenge_ttl"`
	ChallengeSweepInterval time.Duration `yaml:"challenge_sweep_interval"`
	MaxMFAAttempts         int           `yaml:"max_mfa_attempts"`
	InvitationTTL          time.Duration `yaml:"invitation_ttl"`
	PasswordResetTTL       time.Duration `yaml:"password_reset_ttl"`
	LoginRateLimit         int           `yaml:"login_rate_limit"`
	LoginRateWindow        time.Duration `yaml:"login_rate_window"`
}

// PasskeyConfig configures the WebAuthn relying party
type PasskeyConfig struct {
	RPID          string   `yaml:"rp_id"`
	RPDisplayName string   `yaml:"rp_display_name"`
	RPOrigins     []string `yaml:"rp_origins"`
}

// MediaConfig controls uploads and the processing pipeline
type MediaConfig struct {
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	FFprobePath      string        `yaml:"ffprobe_path"`
	TempDir          string        `yaml:"temp_dir"`
	JPEGQuality      int           `yaml:"jpeg_quality"`
	MaxPixels        int64         `yaml:"max_pixels"`
	VariantCacheSize int           `yaml:"variant_cache_size"`
	StaleAfter       time.Duration `yaml:"stale_after"`
}

// NotificationConfig holds web push and SMTP settings
type NotificationConfig struct {
	PushEnabled     bool          `yaml:"push_enabled"`
	VAPIDPublicKey  string        `yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `yaml:"vapid_private_key"`
	VAPIDSubject    string        `yaml:"vapid_subject"`
	PushTTL         int           `yaml:"push_ttl"`
	EmailEnabled    bool          `yaml:"email_enabled"`
	SMTPHost        string        `yaml:"smtp_host"`
	SMTPPort        int           `yaml:"smtp_port"`
	SMTPUsername    string        `yaml:"smtp_username"`
	SMTPPassword    string        `yaml:"smtp_password"`
	SMTPFrom        string        `yaml:"smtp_from"`
	SMTPStartTLS    bool          `yaml:"smtp_starttls"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// OIDCConfig configures optional single sign-on
type OIDCConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// ImporterConfig configures the inbox folder watcher
type ImporterConfig struct {
	InboxDir    string        `yaml:"inbox_dir"`
	AlbumID     int64         `yaml:"album_id"`
	UploaderID  int64         `yaml:"uploader_id"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// AuditConfig controls where audit events go and how long they are kept
type AuditConfig struct {
	FileDir       string `yaml:"file_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// MaintenanceConfig holds cron schedules for lightbox-maintenance
type MaintenanceConfig struct {
	PurgeSchedule   string        `yaml:"purge_schedule"`
	RequeueSchedule string        `yaml:"requeue_schedule"`
	RetrySchedule   string        `yaml:"retry_schedule"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel           string  `yaml:"log_level"`
	MetricsEnabled     bool    `yaml:"metrics_enabled"`
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level converts LogLevel into an observability level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the tracing settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LocalesDir:      "./web/locales",
		},
		Database: database.Config{
			Driver:          "sqlite3",
			URL:             "file:./data/lightbox.db?_foreign_keys=on&_busy_timeout=5000",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Redis:   storage.DefaultRedisConfig(),
		Auth: AuthConfig{
			SessionTTL:             14 * 24 * time.Hour,
			CookieName:             "lightbox_session",
			CookieSecure:           true,
			BcryptCost:             12,
			MFAIssuer:              "Lightbox",
			ChallengeStore:         "memory",
			ChallengeTTL:           5 * time.Minute,
			ChallengeSweepInterval: time.Minute,
			MaxMFAAttempts:         5,
			InvitationTTL:          72 * time.Hour,
			PasswordResetTTL:       time.Hour,
			LoginRateLimit:         10,
			LoginRateWindow:        time.Minute,
		},
		Passkey: PasskeyConfig{
			RPID:          "localhost",
			RPDisplayName: "Lightbox",
			RPOrigins:     []string{"http://localhost:8080"},
		},
		Media: MediaConfig{
			MaxUploadBytes:   2 << 30,
			Workers:          2,
			QueueSize:        256,
			JobTimeout:       30 * time.Minute,
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			TempDir:          os.TempDir(),
			JPEGQuality:      85,
			MaxPixels:        100_000_000,
			VariantCacheSize: 512,
			StaleAfter:       time.Hour,
		},
		Notifications: NotificationConfig{
			VAPIDSubject:  "mailto:admin@localhost",
			PushTTL:       3600,
			SMTPPort:      587,
			SMTPStartTLS:  true,
			MaxAttempts:   3,
			RetryInterval: time.Minute,
		},
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "email", "profile"},
		},
		Importer: ImporterConfig{
			SettleDelay: 2 * time.Second,
		},
		Audit: AuditConfig{
			RetentionDays: 365,
		},
		Maintenance: MaintenanceConfig{
			PurgeSchedule:   "@hourly",
			RequeueSchedule: "*/10 * * * *",
			RetrySchedule:   "@every 1m",
			NotificationTTL: 90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "lightbox",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds configuration from defaults, then the YAML file named by
// LIGHTBOX_CONFIG_FILE (if any), then LIGHTBOX_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("LIGHTBOX_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("LIGHTBOX_HOST", s.Host)
	s.Port = getEnv("LIGHTBOX_PORT", s.Port)
	s.HealthPort = getEnv("LIGHTBOX_HEALTH_PORT", s.HealthPort)
	s.PublicURL = strings.TrimRight(getEnv("LIGHTBOX_PUBLIC_URL", s.PublicURL), "/")
	s.ReadTimeout = getEnvDuration("LIGHTBOX_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("LIGHTBOX_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("LIGHTBOX_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("LIGHTBOX_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getEnvList("LIGHTBOX_ALLOWED_ORIGINS", s.AllowedOrigins)
	s.TrustProxy = getEnvBool("LIGHTBOX_TRUST_PROXY", s.TrustProxy)
	s.LocalesDir = getEnv("LIGHTBOX_LOCALES_DIR", s.LocalesDir)

	d := &c.Database
	d.Driver = getEnv("LIGHTBOX_DB_DRIVER", d.Driver)
	d.URL = getEnv("LIGHTBOX_DB_URL", d.URL)
	d.MaxOpenConns = getEnvInt("LIGHTBOX_DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("LIGHTBOX_DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("LIGHTBOX_DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("LIGHTBOX_DB_CONNECT_TIMEOUT", d.ConnectTimeout)

	st := &c.Storage
	st.Type = getEnv("LIGHTBOX_STORAGE_TYPE", st.Type)
	st.FilesystemRoot = getEnv("LIGHTBOX_FILESYSTEM_ROOT", st.FilesystemRoot)
	st.S3Endpoint = getEnv("LIGHTBOX_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("LIGHTBOX_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("LIGHTBOX_S3_BUCKET", st.S3Bucket)
	st.S3AccessKey = getEnv("LIGHTBOX_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("LIGHTBOX_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("LIGHTBOX_S3_USE_PATH_STYLE", st.S3UsePathStyle)
	st.S3CreateBucket = getEnvBool("LIGHTBOX_S3_CREATE_BUCKET", st.S3CreateBucket)

	r := &c.Redis
	r.URL = getEnv("LIGHTBOX_REDIS_URL", r.URL)
	r.Password = getEnv("LIGHTBOX_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("LIGHTBOX_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("LIGHTBOX_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("LIGHTBOX_REDIS_MAX_RETRIES", r.MaxRetries)
	r.KeyPrefix = getEnv("LIGHTBOX_REDIS_KEY_PREFIX", r.KeyPrefix)

	a := &c.Auth
	a.SessionTTL = getEnvDuration("LIGHTBOX_SESSION_TTL", a.SessionTTL)
	a.CookieName = getEnv("LIGHTBOX_COOKIE_NAME", a.CookieName)
	a.CookieSecure = getEnvBool("LIGHTBOX_COOKIE_SECURE", a.CookieSecure)
	a.CookieDomain = getEnv("LIGHTBOX_COOKIE_DOMAIN", a.CookieDomain)
	a.BcryptCost = getEnvInt("LIGHTBOX_BCRYPT_COST", a.BcryptCost)
	a.MFAIssuer = getEnv("LIGHTBOX_MFA_ISSUER", a.MFAIssuer)
	a.ChallengeStore = getEnv("LIGHTBOX_CHALLENGE_STORE", a.ChallengeStore)
	a.ChallengeTTL = getEnvDuration("LIGHTBOX_CHALLENGE_TTL", a.ChallengeTTL)
	a.ChallengeSweepInterval = getEnvDuration("LIGHTBOX_CHALLENGE_SWEEP_INTERVAL", a.ChallengeSweepInterval)
	a.MaxMFAAttempts = getEnvInt("LIGHTBOX_MAX_MFA_ATTEMPTS", a.MaxMFAAttempts)
	a.InvitationTTL = getEnvDuration("LIGHTBOX_INVITATION_TTL", a.InvitationTTL)
	a.PasswordResetTTL = getEnvDuration("LIGHTBOX_PASSWORD_RESET_TTL", a.PasswordResetTTL)
	a.LoginRateLimit = getEnvInt("LIGHTBOX_LOGIN_RATE_LIMIT", a.LoginRateLimit)
	a.LoginRateWindow = getEnvDuration("LIGHTBOX_LOGIN_RATE_WINDOW", a.LoginRateWindow)

	p := &c.Passkey
	p.RPID = getEnv("LIGHTBOX_WEBAUTHN_RP_ID", p.RPID)
	p.RPDisplayName = getEnv("LIGHTBOX_WEBAUTHN_RP_NAME", p.RPDisplayName)
	p.RPOrigins = getEnvList("LIGHTBOX_WEBAUTHN_RP_ORIGINS", p.RPOrigins)

	m := &c.Media
	m.MaxUploadBytes = getEnvInt64("LIGHTBOX_MAX_UPLOAD_BYTES", m.MaxUploadBytes)
	m.Workers = getEnvInt("LIGHTBOX_MEDIA_WORKERS", m.Workers)
	m.QueueSize = getEnvInt("LIGHTBOX_MEDIA_QUEUE_SIZE", m.QueueSize)
	m.JobTimeout = getEnvDuration("LIGHTBOX_MEDIA_JOB_TIMEOUT", m.JobTimeout)
	m.FFmpegPath = getEnv("LIGHTBOX_FFMPEG_PATH", m.FFmpegPath)
	m.FFprobePath = getEnv("LIGHTBOX_FFPROBE_PATH", m.FFprobePath)
	m.TempDir = getEnv("LIGHTBOX_MEDIA_TEMP_DIR", m.TempDir)
	m.JPEGQuality = getEnvInt("LIGHTBOX_JPEG_QUALITY", m.JPEGQuality)
	m.MaxPixels = getEnvInt64("LIGHTBOX_MEDIA_MAX_PIXELS", m.MaxPixels)
	m.VariantCacheSize = getEnvInt("LIGHTBOX_VARIANT_CACHE_SIZE", m.VariantCacheSize)
	m.StaleAfter = getEnvDuration("LIGHTBOX_MEDIA_STALE_AFTER", m.StaleAfter)

	n := &c.Notifications
	n.PushEnabled = getEnvBool("LIGHTBOX_PUSH_ENABLED", n.PushEnabled)
	n.VAPIDPublicKey = getEnv("LIGHTBOX_VAPID_PUBLIC_KEY", n.VAPIDPublicKey)
	n.VAPIDPrivateKey = getEnv("LIGHTBOX_VAPID_PRIVATE_KEY", n.VAPIDPrivateKey)
	n.VAPIDSubject = getEnv("LIGHTBOX_VAPID_SUBJECT", n.VAPIDSubject)
	n.PushTTL = getEnvInt("LIGHTBOX_PUSH_TTL", n.PushTTL)
	n.EmailEnabled = getEnvBool("LIGHTBOX_EMAIL_ENABLED", n.EmailEnabled)
	n.SMTPHost = getEnv("LIGHTBOX_SMTP_HOST", n.SMTPHost)
	n.SMTPPort = getEnvInt("LIGHTBOX_SMTP_PORT", n.SMTPPort)
	n.SMTPUsername = getEnv("LIGHTBOX_SMTP_USERNAME", n.SMTPUsername)
	n.SMTPPassword = getEnv("LIGHTBOX_SMTP_PASSWORD", n.SMTPPassword)
	n.SMTPFrom = getEnv("LIGHTBOX_SMTP_FROM", n.SMTPFrom)
	n.SMTPStartTLS = getEnvBool("LIGHTBOX_SMTP_STARTTLS", n.SMTPStartTLS)
	n.MaxAttempts = getEnvInt("LIGHTBOX_NOTIFY_MAX_ATTEMPTS", n.MaxAttempts)
	n.RetryInterval = getEnvDuration("LIGHTBOX_NOTIFY_RETRY_INTERVAL", n.RetryInterval)

	o := &c.OIDC
	o.Enabled = getEnvBool("LIGHTBOX_OIDC_ENABLED", o.Enabled)
	o.IssuerURL = getEnv("LIGHTBOX_OIDC_ISSUER_URL", o.IssuerURL)
	o.ClientID = getEnv("LIGHTBOX_OIDC_CLIENT_ID", o.ClientID)
	o.ClientSecret = getEnv("LIGHTBOX_OIDC_CLIENT_SECRET", o.ClientSecret)
	o.RedirectURL = getEnv("LIGHTBOX_OIDC_REDIRECT_URL", o.RedirectURL)
	o.Scopes = getEnvList("LIGHTBOX_OIDC_SCOPES", o.Scopes)

	im := &c.Importer
	im.InboxDir = getEnv("LIGHTBOX_INBOX_DIR", im.InboxDir)
	im.AlbumID = getEnvInt64("LIGHTBOX_INBOX_ALBUM_ID", im.AlbumID)
	im.UploaderID = getEnvInt64("LIGHTBOX_INBOX_UPLOADER_ID", im.UploaderID)
	im.SettleDelay = getEnvDuration("LIGHTBOX_INBOX_SETTLE_DELAY", im.SettleDelay)

	au := &c.Audit
	au.FileDir = getEnv("LIGHTBOX_AUDIT_FILE_DIR", au.FileDir)
	au.RetentionDays = getEnvInt("LIGHTBOX_AUDIT_RETENTION_DAYS", au.RetentionDays)

	mt := &c.Maintenance
	mt.PurgeSchedule = getEnv("LIGHTBOX_PURGE_SCHEDULE", mt.PurgeSchedule)
	mt.RequeueSchedule = getEnv("LIGHTBOX_REQUEUE_SCHEDULE", mt.RequeueSchedule)
	mt.RetrySchedule = getEnv("LIGHTBOX_NOTIFY_RETRY_SCHEDULE", mt.RetrySchedule)
	mt.NotificationTTL = getEnvDuration("LIGHTBOX_NOTIFICATION_TTL", mt.NotificationTTL)

	ob := &c.Observability
	ob.LogLevel = getEnv("LIGHTBOX_LOG_LEVEL", ob.LogLevel)
	ob.MetricsEnabled = getEnvBool("LIGHTBOX_METRICS_ENABLED", ob.MetricsEnabled)
	ob.OTelEnabled = getEnvBool("LIGHTBOX_OTEL_ENABLED", ob.OTelEnabled)
	ob.OTelEndpoint = getEnv("LIGHTBOX_OTEL_ENDPOINT", ob.OTelEndpoint)
	ob.OTelServiceName = getEnv("LIGHTBOX_OTEL_SERVICE_NAME", ob.OTelServiceName)
	ob.OTelServiceVersion = getEnv("LIGHTBOX_OTEL_SERVICE_VERSION", ob.OTelServiceVersion)
	ob.OTelInsecure = getEnvBool("LIGHTBOX_OTEL_INSECURE", ob.OTelInsecure)
	ob.OTelSampleRatio = getEnvFloat("LIGHTBOX_OTEL_SAMPLE_RATIO", ob.OTelSampleRatio)
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("invalid database driver: %q (must be postgres or sqlite3)", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database URL is required"))
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			errs = append(errs, errors.New("filesystem root is required for filesystem storage"))
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3 bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage type: %q (must be filesystem or s3)", c.Storage.Type))
	}

	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost must be between 10 and 31, got %d", c.Auth.BcryptCost))
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.ChallengeTTL <= 0 || c.Auth.InvitationTTL <= 0 || c.Auth.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("session, challenge, invitation and password reset TTLs must be positive"))
	}
	switch c.Auth.ChallengeStore {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis challenge store requires a redis URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid challenge store: %q (must be memory or redis)", c.Auth.ChallengeStore))
	}

	if c.Passkey.RPID == "" || len(c.Passkey.RPOrigins) == 0 {
		errs = append(errs, errors.New("passkey relying party ID and origins are required"))
	}

	if c.Media.Workers < 1 {
		errs = append(errs, errors.New("media workers must be at least 1"))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.Media.JPEGQuality < 1 || c.Media.JPEGQuality > 100 {
		errs = append(errs, errors.New("jpeg quality must be between 1 and 100"))
	}
	if c.Media.MaxPixels <= 0 {
		errs = append(errs, errors.New("media max pixels must be positive"))
	}

	if c.Notifications.PushEnabled && (c.Notifications.VAPIDPublicKey == "" || c.Notifications.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("web push requires VAPID public and private keys"))
	}
	if c.Notifications.EmailEnabled && (c.Notifications.SMTPHost == "" || c.Notifications.SMTPFrom == "") {
		errs = append(errs, errors.New("email requires an SMTP host and from address"))
	}

	if c.OIDC.Enabled && (c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		errs = append(errs, errors.New("OIDC requires issuer URL, client ID and redirect URL"))
	}

	if c.Audit.RetentionDays < 0 {
		errs = append(errs, errors.New("audit retention days cannot be negative"))
	}

	if c.Observability.OTelEnabled && (c.Observability.OTelEndpoint == "" || c.Observability.OTelServiceName == "") {
		errs = append(errs, errors.New("OpenTelemetry endpoint and service name are required when OTel is enabled"))
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool accepts "true"/"1" and "false"/"0"
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
