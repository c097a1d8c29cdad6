package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

type recordingNotifier struct {
	mu        sync.Mutex
	processed []int64
	failed    map[int64]string
}

func (n *recordingNotifier) PhotoProcessed(ctx context.Context, p *gallery.Photo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, p.ID)
}

func (n *recordingNotifier) PhotoFailed(ctx context.Context, p *gallery.Photo, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed == nil {
		n.failed = map[int64]string{}
	}
	n.failed[p.ID] = reason
}

type pipelineEnv struct {
	pipeline *Pipeline
	gallery  *gallery.Service
	blobs    *storage.FileSystemBlobStore
	notifier *recordingNotifier
	album    *gallery.Album
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Driver: "sqlite3", URL: "file::memory:?_foreign_keys=on"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	blobs, err := storage.NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)

	svc := gallery.NewService(gallery.NewStore(db.DB), blobs)
	album, err := svc.CreateAlbum(ctx, gallery.NewAlbum{Title: "Inbox", Visibility: gallery.VisibilityPublic})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	pipeline := NewPipeline(ctx, PipelineConfig{Workers: 1, QueueSize: 8, JobTimeout: time.Minute, TempDir: t.TempDir()},
		svc, blobs, NewImageProcessor(80), nil, WithNotifier(notifier))
	t.Cleanup(func() { pipeline.Shutdown(time.Second) })

	return &pipelineEnv{pipeline: pipeline, gallery: svc, blobs: blobs, notifier: notifier, album: album}
}

func (e *pipelineEnv) upload(t *testing.T, name string, content []byte, kind gallery.MediaType) *gallery.Photo {
	t.Helper()
	ctx := context.Background()
	key := storage.OriginalKey(name)
	require.NoError(t, e.blobs.Put(ctx, key, bytes.NewReader(content), ContentTypeFor(name)))
	p, err := e.gallery.AddPhoto(ctx, gallery.NewPhoto{
		AlbumID:          e.album.ID,
		MediaType:        kind,
		OriginalKey:      key,
		OriginalFilename: name,
		ContentType:      ContentTypeFor(name),
		SizeBytes:        int64(len(content)),
	})
	require.NoError(t, err)
	return p
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.png")
	writePNG(t, path, w, h)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestPipelineProcessImage(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	photo := env.upload(t, "sunset.png", pngBytes(t, 900, 600), gallery.MediaImage)

	require.NoError(t, env.pipeline.Process(ctx, photo.ID))

	got, err := env.gallery.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, gallery.StatusReady, got.Status)
	assert.Equal(t, 900, got.Width)
	assert.Equal(t, 600, got.Height)
	require.Len(t, got.Variants, 3)
	assert.Equal(t, 400, got.Variants["thumb"].Width)

	for _, v := range got.Variants {
		ok, err := env.blobs.Exists(ctx, v.Key)
		require.NoError(t, err)
		assert.True(t, ok, v.Key)
	}
	assert.Equal(t, []int64{photo.ID}, env.notifier.processed)

	// already ready: nothing to do
	require.NoError(t, env.pipeline.Process(ctx, photo.ID))
	assert.Len(t, env.notifier.processed, 1)
}

func TestPipelineProcessFailure(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	photo := env.upload(t, "broken.jpg", []byte("not an image"), gallery.MediaImage)

	require.Error(t, env.pipeline.Process(ctx, photo.ID))

	got, err := env.gallery.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, gallery.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "failed to decode image")
	assert.Contains(t, env.notifier.failed, photo.ID)
}

func TestPipelineHugeDimensionsFail(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	photo := env.upload(t, "bomb.png", pngHeader(20000, 20000), gallery.MediaImage)

	err := env.pipeline.Process(ctx, photo.ID)
	assert.ErrorIs(t, err, ErrTooLarge)

	got, err := env.gallery.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, gallery.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "pixel limit")
}

func TestPipelineVideoWithoutProcessor(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	photo := env.upload(t, "clip.mp4", []byte("mp4"), gallery.MediaVideo)

	err := env.pipeline.Process(ctx, photo.ID)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPipelineDeletedPhoto(t *testing.T) {
	env := newPipelineEnv(t)
	assert.NoError(t, env.pipeline.Process(context.Background(), 424242))
}

func TestPipelineRequeue(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	first := env.upload(t, "a.png", pngBytes(t, 50, 50), gallery.MediaImage)
	second := env.upload(t, "b.png", pngBytes(t, 60, 40), gallery.MediaImage)

	env.pipeline.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := env.pipeline.Requeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, env.pipeline.Shutdown(10*time.Second))

	for _, id := range []int64{first.ID, second.ID} {
		got, err := env.gallery.GetPhoto(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, gallery.StatusReady, got.Status)
	}
}

func TestPipelineEnqueueAndReprocess(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	photo := env.upload(t, "c.png", pngBytes(t, 80, 80), gallery.MediaImage)
	require.NoError(t, env.pipeline.Process(ctx, photo.ID))

	reset, err := env.pipeline.Reprocess(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, gallery.StatusPending, reset.Status)

	require.NoError(t, env.pipeline.Shutdown(10*time.Second))
	got, err := env.gallery.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, gallery.StatusReady, got.Status)

	assert.Error(t, env.pipeline.Enqueue(photo.ID))
}
