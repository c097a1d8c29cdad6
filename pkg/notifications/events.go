package notifications

import (
	"context"
	"fmt"

	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// MediaNotifier reports media pipeline outcomes. Results go to the uploader,
// or to every admin when the uploader is unknown.
type MediaNotifier struct {
	d      *Dispatcher
	logger *observability.Logger
}

// NewMediaNotifier adapts d for the media pipeline
func NewMediaNotifier(d *Dispatcher) *MediaNotifier {
	return &MediaNotifier{d: d, logger: d.logger}
}

func photoName(p *gallery.Photo) string {
	if p.OriginalFilename != "" {
		return p.OriginalFilename
	}
	return fmt.Sprintf("photo %d", p.ID)
}

func photoLink(p *gallery.Photo) string {
	return fmt.Sprintf("/admin/albums/%d/photos/%d", p.AlbumID, p.ID)
}

// PhotoProcessed sends photo.processed
func (m *MediaNotifier) PhotoProcessed(ctx context.Context, p *gallery.Photo) {
	m.notify(ctx, Event{
		Type:   EventPhotoProcessed,
		UserID: p.UploadedBy,
		Title:  "Media ready",
		Body:   photoName(p) + " has been processed.",
		Link:   photoLink(p),
	})
}

// PhotoFailed sends photo.failed
func (m *MediaNotifier) PhotoFailed(ctx context.Context, p *gallery.Photo, reason string) {
	m.notify(ctx, Event{
		Type:   EventPhotoFailed,
		UserID: p.UploadedBy,
		Title:  "Media processing failed",
		Body:   fmt.Sprintf("%s could not be processed: %s", photoName(p), reason),
		Link:   photoLink(p),
	})
}

func (m *MediaNotifier) notify(ctx context.Context, ev Event) {
	if err := m.d.Notify(ctx, ev); err != nil {
		m.logger.WithError(err).WithField("event_type", ev.Type).Warn("failed to send media notification")
	}
}
