package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/lightbox/pkg/gallery"
)

// VariantSpec describes one rendition generated from every image and poster
type VariantSpec struct {
	Name    string
	MaxEdge int
}

// DefaultVariants are rendered for every photo and video poster
var DefaultVariants = []VariantSpec{
	{Name: "thumb", MaxEdge: 400},
	{Name: "medium", MaxEdge: 1280},
	{Name: "large", MaxEdge: 2048},
}

// Rendition is a generated file waiting to be uploaded
type Rendition struct {
	Name        string
	Path        string
	Ext         string
	ContentType string
	Width       int
	Height      int
	Size        int64
}

// Result is what a processor measured and produced
type Result struct {
	Width      int
	Height     int
	DurationMS int64
	Renditions []Rendition
}

// Processor turns an original file into renditions written under workDir
type Processor interface {
	Process(ctx context.Context, srcPath, workDir string) (*Result, error)
}

// Notifier is told about finished jobs
type Notifier interface {
	PhotoProcessed(ctx context.Context, p *gallery.Photo)
	PhotoFailed(ctx context.Context, p *gallery.Photo, reason string)
}

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrTooLarge        = errors.New("upload exceeds size limit")
	ErrEmptyUpload     = errors.New("empty upload")
	ErrNoVideoStream   = errors.New("no video stream found")

	// ErrTooManyPixels is an ErrTooLarge whose header declares too many pixels
	ErrTooManyPixels = fmt.Errorf("%w: image dimensions exceed the pixel limit", ErrTooLarge)
)
