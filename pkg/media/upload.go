package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/async"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// Enqueuer schedules processing for a stored photo
type Enqueuer interface {
	Enqueue(photoID int64) error
}

// UploadRequest describes one original to store
type UploadRequest struct {
	AlbumID     int64
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	TakenAt     *time.Time
	UploadedBy  *int64
}

// Uploader stores originals, records the photo row and queues processing.
// It is shared by the multipart upload handler and the inbox importer.
type Uploader struct {
	gallery  *gallery.Service
	blobs    storage.BlobStore
	queue    Enqueuer
	maxBytes int64
	log      *logrus.Entry
}

// NewUploader creates an uploader. queue may be nil when processing is
// driven elsewhere, e.g. by the maintenance requeue job.
func NewUploader(svc *gallery.Service, blobs storage.BlobStore, queue Enqueuer, maxBytes int64) *Uploader {
	return &Uploader{
		gallery:  svc,
		blobs:    blobs,
		queue:    queue,
		maxBytes: maxBytes,
		log:      logrus.WithField("component", "media-upload"),
	}
}

// Upload validates and stores one original. The returned photo is pending.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*gallery.Photo, error) {
	kind, contentType, err := ValidateUpload(req.Filename, req.ContentType, req.Size, u.maxBytes)
	if err != nil {
		return nil, err
	}
	if _, err := u.gallery.GetAlbum(ctx, req.AlbumID); err != nil {
		return nil, err
	}

	key := storage.OriginalKey(req.Filename)
	body := req.Body
	if u.maxBytes > 0 {
		body = io.LimitReader(body, u.maxBytes+1)
	}
	counted := &countingReader{r: body}
	if err := u.blobs.Put(ctx, key, counted, contentType); err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}
	if u.maxBytes > 0 && counted.n > u.maxBytes {
		u.discard(ctx, key)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, u.maxBytes)
	}

	photo, err := u.gallery.AddPhoto(ctx, gallery.NewPhoto{
		AlbumID:          req.AlbumID,
		MediaType:        kind,
		OriginalKey:      key,
		OriginalFilename: storage.SanitizeFilename(req.Filename),
		ContentType:      contentType,
		SizeBytes:        counted.n,
		TakenAt:          req.TakenAt,
		UploadedBy:       req.UploadedBy,
	})
	if err != nil {
		u.discard(ctx, key)
		return nil, err
	}

	if u.queue != nil {
		if err := u.queue.Enqueue(photo.ID); err != nil {
			if !errors.Is(err, async.ErrQueueFull) && !errors.Is(err, async.ErrPoolClosed) {
				return photo, err
			}
			u.log.WithError(err).WithField("photo_id", photo.ID).Warn("processing deferred")
		}
	}
	return photo, nil
}

func (u *Uploader) discard(ctx context.Context, key string) {
	if err := u.blobs.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		u.log.WithError(err).WithField("key", key).Warn("failed to remove orphaned original")
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
