package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrObjectNotFound is returned when a key does not exist
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the store root
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobStore stores opaque media objects by key
type BlobStore interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
}

// Config selects and configures the blob store backend
type Config struct {
	Type string `yaml:"type"` // "filesystem" or "s3"

	FilesystemRoot string `yaml:"filesystem_root"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3CreateBucket bool   `yaml:"s3_create_bucket"`
}

// DefaultConfig returns a filesystem store under ./data/media
func DefaultConfig() Config {
	return Config{
		Type:           "filesystem",
		FilesystemRoot: "./data/media",
		S3Region:       "us-east-1",
	}
}

// NewBlobStore builds the backend selected by cfg.Type
func NewBlobStore(ctx context.Context, cfg Config) (BlobStore, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFileSystemBlobStore(cfg.FilesystemRoot)
	case "s3":
		return NewS3BlobStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob storage type %q", cfg.Type)
	}
}

// ValidateKey rejects keys that are empty, absolute or contain dot segments
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// OriginalKey returns a fresh key for an uploaded original
func OriginalKey(filename string) string {
	return path.Join("originals", uuid.NewString(), SanitizeFilename(filename))
}

// VariantKey returns the key of a rendered variant of a photo
func VariantKey(photoID int64, variant, ext string) string {
	return fmt.Sprintf("variants/%d/%s.%s", photoID, variant, strings.TrimPrefix(ext, "."))
}

// BrandingKey returns a fresh key for a branding asset such as the logo
func BrandingKey(asset, ext string) string {
	return fmt.Sprintf("branding/%s-%s.%s", asset, uuid.NewString(), strings.TrimPrefix(ext, "."))
}

// SanitizeFilename keeps a safe, readable base name for object keys
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > 120 {
		out = out[len(out)-120:]
	}
	return out
}
