package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// pngHeader is a PNG that stops after IHDR. It declares w x h RGBA pixels
// but carries no pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{3000, 2000, 400, 400, 266},
		{2000, 3000, 1280, 853, 1280},
		{300, 200, 400, 300, 200},
		{5000, 1, 400, 400, 1},
		{800, 600, 0, 800, 600},
	}
	for _, tt := range tests {
		w, h := ScaledSize(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "%dx%d@%d", tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantH, h, "%dx%d@%d", tt.w, tt.h, tt.max)
	}
}

func TestImageProcessor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "original.png")
	writePNG(t, src, 1600, 1200)

	proc := NewImageProcessor(80)
	result, err := proc.Process(ctx, src, dir)
	require.NoError(t, err)

	assert.Equal(t, 1600, result.Width)
	assert.Equal(t, 1200, result.Height)
	require.Len(t, result.Renditions, 3)

	byName := map[string]Rendition{}
	for _, r := range result.Renditions {
		byName[r.Name] = r
		assert.Equal(t, "image/jpeg", r.ContentType)
		assert.Positive(t, r.Size)

		f, err := os.Open(r.Path)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, r.Width, cfg.Width)
		assert.Equal(t, r.Height, cfg.Height)
	}

	assert.Equal(t, 400, byName["thumb"].Width)
	assert.Equal(t, 300, byName["thumb"].Height)
	assert.Equal(t, 1280, byName["medium"].Width)
	// large would upscale, so it keeps the original size
	assert.Equal(t, 1600, byName["large"].Width)
	assert.Equal(t, 1200, byName["large"].Height)
}

func TestImageProcessorRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "original.jpg")
	require.NoError(t, os.WriteFile(src, []byte("definitely not a jpeg"), 0o644))

	_, err := NewImageProcessor(80).Process(context.Background(), src, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode image")
}

func TestImageProcessorRejectsHugeDimensions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "original.png")
	require.NoError(t, os.WriteFile(src, pngHeader(20000, 20000), 0o644))

	_, err := NewImageProcessor(80).Process(context.Background(), src, dir)
	assert.ErrorIs(t, err, ErrTooManyPixels)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "20000x20000")
}

func TestImageProcessorMaxPixels(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "original.png")
	writePNG(t, src, 64, 64)

	_, err := NewImageProcessor(80).WithMaxPixels(1000).Process(ctx, src, dir)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	result, err := NewImageProcessor(80).WithMaxPixels(64*64).Process(ctx, src, dir)
	require.NoError(t, err)
	assert.Equal(t, 64, result.Width)

	// non-positive limits keep the default
	assert.Equal(t, DefaultMaxPixels, NewImageProcessor(80).WithMaxPixels(0).maxPixels)
}

func TestImageProcessorCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "original.png")
	writePNG(t, src, 64, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewImageProcessor(80).Process(ctx, src, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitPNGRejectsHugeDimensions(t *testing.T) {
	_, _, _, err := FitPNG(bytes.NewReader(pngHeader(60000, 60000)), 512)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFitPNG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "logo.png")
	writePNG(t, src, 1024, 256)
	data, err := os.ReadFile(src)
	require.NoError(t, err)

	out, w, h, err := FitPNG(bytes.NewReader(data), 512)
	require.NoError(t, err)
	assert.Equal(t, 512, w)
	assert.Equal(t, 128, h)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
}
