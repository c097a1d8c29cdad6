package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPixels bounds the decoded size of a still (100 megapixels)
const DefaultMaxPixels int64 = 100_000_000

// ImageProcessor renders downscaled JPEG variants of stills
type ImageProcessor struct {
	variants  []VariantSpec
	quality   int
	workers   int
	maxPixels int64
}

// NewImageProcessor creates a processor. quality is the JPEG quality (1-100).
func NewImageProcessor(quality int, variants ...VariantSpec) *ImageProcessor {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	return &ImageProcessor{variants: variants, quality: quality, workers: len(variants), maxPixels: DefaultMaxPixels}
}

// WithMaxPixels sets the largest width*height the processor will decode.
// Zero or less keeps DefaultMaxPixels.
func (p *ImageProcessor) WithMaxPixels(n int64) *ImageProcessor {
	if n > 0 {
		p.maxPixels = n
	}
	return p
}

// Process decodes srcPath and writes one JPEG per variant into workDir
func (p *ImageProcessor) Process(ctx context.Context, srcPath, workDir string) (*Result, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open original: %w", err)
	}
	defer f.Close()

	src, err := decodeLimited(f, p.maxPixels)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	result := &Result{Width: b.Dx(), Height: b.Dy()}

	renditions := make([]Rendition, len(p.variants))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for i, spec := range p.variants {
		i, spec := i, spec
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := p.render(src, spec, workDir)
			if err != nil {
				return fmt.Errorf("variant %s: %w", spec.Name, err)
			}
			renditions[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	result.Renditions = renditions
	return result, nil
}

func (p *ImageProcessor) render(src image.Image, spec VariantSpec, workDir string) (Rendition, error) {
	dst := flatten(Fit(src, spec.MaxEdge))

	out := filepath.Join(workDir, spec.Name+".jpg")
	f, err := os.Create(out)
	if err != nil {
		return Rendition{}, err
	}
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		f.Close()
		return Rendition{}, err
	}
	if err := f.Close(); err != nil {
		return Rendition{}, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return Rendition{}, err
	}
	return Rendition{
		Name:        spec.Name,
		Path:        out,
		Ext:         "jpg",
		ContentType: "image/jpeg",
		Width:       dst.Bounds().Dx(),
		Height:      dst.Bounds().Dy(),
		Size:        info.Size(),
	}, nil
}

// ScaledSize returns w x h shrunk so the long edge is at most maxEdge.
// Images are never enlarged.
func ScaledSize(w, h, maxEdge int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if maxEdge <= 0 || long <= maxEdge {
		return w, h
	}
	nw := w * maxEdge / long
	nh := h * maxEdge / long
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// Fit scales src down with Catmull-Rom so its long edge is at most maxEdge
func Fit(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), maxEdge)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten composites transparent pixels onto white for JPEG output
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// FitPNG decodes r, scales it to maxEdge and re-encodes it as PNG, keeping
// transparency. Used for logos and favicons.
func FitPNG(r io.Reader, maxEdge int) ([]byte, int, int, error) {
	src, err := decodeLimited(r, DefaultMaxPixels)
	if err != nil {
		return nil, 0, 0, err
	}
	dst := Fit(src, maxEdge)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), dst.Bounds().Dx(), dst.Bounds().Dy(), nil
}

// decodeLimited reads the image header first and refuses to allocate a pixel
// buffer larger than maxPixels
func decodeLimited(r io.Reader, maxPixels int64) (image.Image, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}
	src, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return src, nil
}
