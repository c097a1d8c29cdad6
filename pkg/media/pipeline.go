package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/async"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// PipelineConfig sizes the worker pool
type PipelineConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	TempDir    string
}

// Pipeline renders variants for uploaded photos and videos in the background
type Pipeline struct {
	gallery  *gallery.Service
	blobs    storage.BlobStore
	images   Processor
	videos   Processor
	pool     *async.WorkerPool
	notifier Notifier
	metrics  *observability.Metrics
	tempDir  string
	log      *logrus.Entry
	now      func() time.Time
}

// PipelineOption customises a Pipeline
type PipelineOption func(*Pipeline)

// WithNotifier reports finished jobs
func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics records job counts and durations
func WithMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline starts the worker pool. Call Shutdown to drain it.
func NewPipeline(ctx context.Context, cfg PipelineConfig, svc *gallery.Service, blobs storage.BlobStore,
	images, videos Processor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gallery: svc,
		blobs:   blobs,
		images:  images,
		videos:  videos,
		tempDir: cfg.TempDir,
		log:     logrus.WithField("component", "media-pipeline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = async.NewWorkerPool(ctx, cfg.Workers, cfg.QueueSize, "media processing", cfg.JobTimeout,
		async.WithLogger(p.log))
	return p
}

// Enqueue schedules a photo for processing. A full queue is reported as
// async.ErrQueueFull; the photo stays pending and is picked up by Requeue.
func (p *Pipeline) Enqueue(photoID int64) error {
	return p.pool.TrySubmit(func(ctx context.Context) error {
		return p.Process(ctx, photoID)
	})
}

// Reprocess resets a photo to pending and queues it again
func (p *Pipeline) Reprocess(ctx context.Context, photoID int64) (*gallery.Photo, error) {
	photo, err := p.gallery.ResetForReprocessing(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if err := p.Enqueue(photoID); err != nil {
		return nil, err
	}
	return photo, nil
}

// Requeue enqueues photos that have been pending or processing longer than
// olderThan and returns how many were queued.
func (p *Pipeline) Requeue(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := p.gallery.ListStale(ctx, p.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, photo := range stale {
		if err := p.pool.Submit(ctx, func(ctx context.Context) error {
			return p.Process(ctx, photo.ID)
		}); err != nil {
			return queued, fmt.Errorf("failed to requeue photo %d: %w", photo.ID, err)
		}
		queued++
	}
	if queued > 0 {
		p.log.WithField("count", queued).Info("requeued stale media")
	}
	return queued, nil
}

// Pending returns the number of queued jobs
func (p *Pipeline) Pending() int64 {
	return p.pool.Pending()
}

// Shutdown stops accepting jobs and waits for queued ones
func (p *Pipeline) Shutdown(timeout time.Duration) error {
	return p.pool.Shutdown(timeout)
}

// Process renders one photo synchronously
func (p *Pipeline) Process(ctx context.Context, photoID int64) error {
	start := p.now()
	photo, err := p.gallery.GetPhoto(ctx, photoID)
	if errors.Is(err, gallery.ErrNotFound) {
		// deleted while queued
		return nil
	}
	if err != nil {
		return err
	}
	if photo.Status == gallery.StatusReady {
		return nil
	}
	log := p.log.WithFields(logrus.Fields{"photo_id": photo.ID, "media_type": photo.MediaType})

	if err := p.gallery.MarkProcessing(ctx, photo.ID); err != nil {
		return err
	}

	variants, dims, err := p.render(ctx, photo)
	if err != nil {
		p.metrics.RecordMediaJob(string(photo.MediaType), "failed", time.Since(start))
		log.WithError(err).Warn("media processing failed")
		if markErr := p.gallery.MarkFailed(context.WithoutCancel(ctx), photo.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("failed to record processing failure")
		}
		if p.notifier != nil {
			p.notifier.PhotoFailed(ctx, photo, err.Error())
		}
		return err
	}

	if err := p.gallery.MarkReady(ctx, photo.ID, variants, dims); err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			p.removeVariants(variants)
			return nil
		}
		return err
	}
	p.metrics.RecordMediaJob(string(photo.MediaType), "ready", time.Since(start))
	log.WithField("variants", len(variants)).Info("media processed")

	if p.notifier != nil {
		if ready, err := p.gallery.GetPhoto(ctx, photo.ID); err == nil {
			p.notifier.PhotoProcessed(ctx, ready)
		}
	}
	return nil
}

func (p *Pipeline) render(ctx context.Context, photo *gallery.Photo) (map[string]gallery.Variant, gallery.Dimensions, error) {
	var dims gallery.Dimensions
	proc := p.images
	if photo.MediaType == gallery.MediaVideo {
		proc = p.videos
	}
	if proc == nil {
		return nil, dims, fmt.Errorf("%w: no processor for %s", ErrUnsupportedType, photo.MediaType)
	}

	workDir, err := os.MkdirTemp(p.tempDir, "lightbox-media-*")
	if err != nil {
		return nil, dims, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "original"+filepath.Ext(photo.OriginalKey))
	if err := p.download(ctx, photo.OriginalKey, srcPath); err != nil {
		return nil, dims, err
	}

	result, err := proc.Process(ctx, srcPath, workDir)
	if err != nil {
		return nil, dims, err
	}

	variants := make(map[string]gallery.Variant, len(result.Renditions))
	for _, r := range result.Renditions {
		key := storage.VariantKey(photo.ID, r.Name, r.Ext)
		if err := p.upload(ctx, key, r); err != nil {
			return nil, dims, err
		}
		variants[r.Name] = gallery.Variant{
			Key:         key,
			ContentType: r.ContentType,
			Width:       r.Width,
			Height:      r.Height,
			Size:        r.Size,
		}
	}
	dims = gallery.Dimensions{Width: result.Width, Height: result.Height, DurationMS: result.DurationMS}
	return variants, dims, nil
}

func (p *Pipeline) download(ctx context.Context, key, dest string) error {
	rc, _, err := p.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch original: %w", err)
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to copy original: %w", err)
	}
	return f.Close()
}

func (p *Pipeline) upload(ctx context.Context, key string, r Rendition) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.blobs.Put(ctx, key, f, r.ContentType); err != nil {
		return fmt.Errorf("failed to store variant %s: %w", r.Name, err)
	}
	return nil
}

// removeVariants cleans up after a photo that was deleted mid-job
func (p *Pipeline) removeVariants(variants map[string]gallery.Variant) {
	ctx := context.Background()
	for _, v := range variants {
		if err := p.blobs.Delete(ctx, v.Key); err != nil {
			p.log.WithError(err).WithField("key", v.Key).Warn("failed to remove orphaned variant")
		}
	}
}
