package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/lightbox/pkg/gallery"
)

var allowedTypes = map[string]gallery.MediaType{
	"image/jpeg":      gallery.MediaImage,
	"image/png":       gallery.MediaImage,
	"image/gif":       gallery.MediaImage,
	"image/webp":      gallery.MediaImage,
	"video/mp4":       gallery.MediaVideo,
	"video/quicktime": gallery.MediaVideo,
	"video/webm":      gallery.MediaVideo,
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// ContentTypeFor guesses a content type from a file name
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsSupportedFile reports whether filename has an extension we accept
func IsSupportedFile(filename string) bool {
	_, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ValidateUpload checks the declared content type and size. An empty or
// generic content type falls back to the file extension.
func ValidateUpload(filename, contentType string, size, maxBytes int64) (gallery.MediaType, string, error) {
	ct := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		ct = parsed
	}
	ct = strings.ToLower(ct)
	if ct == "" || ct == "application/octet-stream" {
		ct = ContentTypeFor(filename)
	}

	kind, ok := allowedTypes[ct]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	if size == 0 {
		return "", "", ErrEmptyUpload
	}
	if maxBytes > 0 && size > maxBytes {
		return "", "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, maxBytes)
	}
	return kind, ct, nil
}
