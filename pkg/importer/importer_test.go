package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/media"
)

type fakeUploader struct {
	mu      sync.Mutex
	reqs    []media.UploadRequest
	bodies  []string
	failFor map[string]error
}

func (f *fakeUploader) Upload(ctx context.Context, req media.UploadRequest) (*gallery.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[req.Filename]; err != nil {
		return nil, err
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.reqs = append(f.reqs, req)
	f.bodies = append(f.bodies, string(body))
	return &gallery.Photo{ID: int64(len(f.reqs))}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestImporter(t *testing.T, up *fakeUploader) (*Importer, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	im, err := New(Config{InboxDir: dir, AlbumID: 4, UploaderID: 2, SettleDelay: time.Second}, up)
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	im.now = c.now
	return im, c, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{AlbumID: 1}, &fakeUploader{})
	assert.Error(t, err)
	_, err = New(Config{InboxDir: t.TempDir()}, &fakeUploader{})
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = New(Config{InboxDir: dir, AlbumID: 1}, &fakeUploader{})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "processed"))
	assert.DirExists(t, filepath.Join(dir, "failed"))
}

func TestFlush_WaitsForSettleDelay(t *testing.T) {
	up := &fakeUploader{}
	im, c, dir := newTestImporter(t, up)
	ctx := context.Background()

	path := filepath.Join(dir, "beach.jpg")
	writeFile(t, path, "part")
	im.Track(path)

	c.advance(500 * time.Millisecond)
	assert.Zero(t, im.Flush(ctx))

	// still growing: the delay restarts
	writeFile(t, path, "partial-more")
	c.advance(700 * time.Millisecond)
	assert.Zero(t, im.Flush(ctx))

	c.advance(time.Second)
	assert.Equal(t, 1, im.Flush(ctx))

	require.Len(t, up.reqs, 1)
	assert.Equal(t, int64(4), up.reqs[0].AlbumID)
	assert.Equal(t, int64(2), *up.reqs[0].UploadedBy)
	assert.Equal(t, "image/jpeg", up.reqs[0].ContentType)
	assert.Equal(t, "partial-more", up.bodies[0])

	assert.NoFileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "processed", "beach.jpg"))
}

func TestTrack_IgnoresUnsupportedAndHidden(t *testing.T) {
	up := &fakeUploader{}
	im, c, dir := newTestImporter(t, up)

	for _, name := range []string{"notes.txt", ".beach.jpg", "clip.mp4.part", "beach.jpg~"} {
		writeFile(t, filepath.Join(dir, name), "x")
		im.Track(filepath.Join(dir, name))
	}
	c.advance(time.Hour)
	assert.Zero(t, im.Flush(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestFlush_MovesRejectedFiles(t *testing.T) {
	up := &fakeUploader{failFor: map[string]error{"empty.png": media.ErrEmptyUpload}}
	im, c, dir := newTestImporter(t, up)

	writeFile(t, filepath.Join(dir, "empty.png"), "x")
	require.NoError(t, im.Scan())
	c.advance(2 * time.Second)
	assert.Zero(t, im.Flush(context.Background()))

	reason, err := os.ReadFile(filepath.Join(dir, "failed", "empty.png.error"))
	require.NoError(t, err)
	assert.Contains(t, string(reason), media.ErrEmptyUpload.Error())
	assert.FileExists(t, filepath.Join(dir, "failed", "empty.png"))
}

func TestMove_AvoidsOverwriting(t *testing.T) {
	up := &fakeUploader{}
	im, c, dir := newTestImporter(t, up)
	writeFile(t, filepath.Join(dir, "processed", "a.png"), "old")

	writeFile(t, filepath.Join(dir, "a.png"), "new")
	require.NoError(t, im.Scan())
	c.advance(2 * time.Second)
	require.Equal(t, 1, im.Flush(context.Background()))

	entries, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	old, err := os.ReadFile(filepath.Join(dir, "processed", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestRun_ImportsDroppedFiles(t *testing.T) {
	up := &fakeUploader{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "existing.png"), "before start")

	im, err := New(Config{InboxDir: dir, AlbumID: 1, SettleDelay: 50 * time.Millisecond}, up)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.Run(ctx) }()

	require.Eventually(t, func() bool { return up.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	writeFile(t, filepath.Join(dir, "dropped.jpg"), "after start")
	require.Eventually(t, func() bool { return up.count() == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("importer did not stop")
	}
	assert.FileExists(t, filepath.Join(dir, "processed", "dropped.jpg"))
}

func TestRun_MissingInbox(t *testing.T) {
	dir := t.TempDir()
	im, err := New(Config{InboxDir: dir, AlbumID: 1}, &fakeUploader{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, im.Run(context.Background()))
}
