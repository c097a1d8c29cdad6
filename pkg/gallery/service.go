package gallery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// maxSlugAttempts bounds the -2, -3 ... suffix search
const maxSlugAttempts = 100

// Service manages albums and photos, their blobs and the album cache
type Service struct {
	store  *Store
	blobs  storage.BlobStore
	cache  *storage.Cache
	logger *observability.Logger
	now    func() time.Time
}

// Option customises a Service
type Option func(*Service)

// WithCache caches album views and listings in Redis
func WithCache(c *storage.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger used for best-effort cleanup failures
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a gallery service
func NewService(store *Store, blobs storage.BlobStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// invalidate drops every cached album view and listing
func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateKind(ctx, storage.CacheAlbum); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate album cache")
	}
	if err := s.cache.InvalidateKind(ctx, storage.CacheAlbumList); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate album list cache")
	}
}

// uniqueSlug returns base or the first free base-N
func (s *Service) uniqueSlug(ctx context.Context, base string, exceptID int64) (string, error) {
	candidate := base
	for n := 2; n <= maxSlugAttempts+1; n++ {
		taken, err := s.store.SlugExists(ctx, candidate, exceptID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = withSuffix(base, n)
	}
	return "", ErrSlugTaken
}

// CreateAlbum creates an album at the end of the album order. The slug comes
// from the title unless given, with -2, -3 ... appended on collision.
func (s *Service) CreateAlbum(ctx context.Context, in NewAlbum) (*Album, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, ErrInvalidVisibility
	}

	base := Slugify(title)
	if in.Slug != "" {
		if !validSlug(in.Slug) {
			return nil, fmt.Errorf("%w: slug may only contain a-z, 0-9 and dashes", ErrInvalidInput)
		}
		base = in.Slug
	}
	slug, err := s.uniqueSlug(ctx, base, 0)
	if err != nil {
		return nil, err
	}
	order, err := s.store.NextAlbumSortOrder(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	a := &Album{
		Slug:        slug,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Visibility:  visibility,
		SortOrder:   order,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAlbum(ctx, a); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return a, nil
}

// GetAlbum loads an album by id
func (s *Service) GetAlbum(ctx context.Context, id int64) (*Album, error) {
	return s.store.GetAlbum(ctx, id)
}

// GetAlbumBySlug loads an album by slug
func (s *Service) GetAlbumBySlug(ctx context.Context, slug string) (*Album, error) {
	return s.store.GetAlbumBySlug(ctx, slug)
}

// AlbumView returns the album and its ready photos, served from the cache
// when possible.
func (s *Service) AlbumView(ctx context.Context, slug string) (*AlbumView, error) {
	var view AlbumView
	if hit, err := s.cache.Get(ctx, storage.CacheAlbum, slug, &view); err != nil {
		s.logger.WithError(err).Warn("album cache read failed")
	} else if hit {
		return &view, nil
	}

	a, err := s.store.GetAlbumBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	photos, err := s.store.ListPhotos(ctx, a.ID, true)
	if err != nil {
		return nil, err
	}
	view = AlbumView{Album: a, Photos: photos}
	if err := s.cache.Set(ctx, storage.CacheAlbum, slug, view); err != nil {
		s.logger.WithError(err).Warn("album cache write failed")
	}
	return &view, nil
}

func listCacheKey(f AlbumFilter) string {
	parts := make([]string, 0, len(f.Visibility))
	for _, v := range f.Visibility {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",") + ":" + strconv.Itoa(f.Limit) + ":" + strconv.Itoa(f.Offset)
}

// ListAlbums returns albums matching f, cached per filter
func (s *Service) ListAlbums(ctx context.Context, f AlbumFilter) ([]*Album, error) {
	for _, v := range f.Visibility {
		if !v.Valid() {
			return nil, ErrInvalidVisibility
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: negative pagination", ErrInvalidInput)
	}

	key := listCacheKey(f)
	var albums []*Album
	if hit, err := s.cache.Get(ctx, storage.CacheAlbumList, key, &albums); err != nil {
		s.logger.WithError(err).Warn("album list cache read failed")
	} else if hit {
		return albums, nil
	}

	albums, err := s.store.ListAlbums(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, storage.CacheAlbumList, key, albums); err != nil {
		s.logger.WithError(err).Warn("album list cache write failed")
	}
	return albums, nil
}

// UpdateAlbum applies edits. A changed title does not change the slug.
func (s *Service) UpdateAlbum(ctx context.Context, id int64, upd AlbumUpdate) (*Album, error) {
	a, err := s.store.GetAlbum(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		a.Title = title
	}
	if upd.Description != nil {
		a.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Visibility != nil {
		if !upd.Visibility.Valid() {
			return nil, ErrInvalidVisibility
		}
		a.Visibility = *upd.Visibility
	}
	if upd.Slug != nil && *upd.Slug != a.Slug {
		if !validSlug(*upd.Slug) {
			return nil, fmt.Errorf("%w: slug may only contain a-z, 0-9 and dashes", ErrInvalidInput)
		}
		taken, err := s.store.SlugExists(ctx, *upd.Slug, a.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrSlugTaken
		}
		a.Slug = *upd.Slug
	}
	a.UpdatedAt = s.clock()
	if err := s.store.UpdateAlbum(ctx, a); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return a, nil
}

// DeleteAlbum removes an album with its photos, then deletes their blobs
func (s *Service) DeleteAlbum(ctx context.Context, id int64) error {
	photos, err := s.store.ListPhotos(ctx, id, false)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAlbum(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	for _, p := range photos {
		s.deleteBlobs(ctx, p)
	}
	return nil
}

// ReorderAlbums sets the album order to ids
func (s *Service) ReorderAlbums(ctx context.Context, ids []int64) error {
	if err := s.store.ReorderAlbums(ctx, ids, s.clock()); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SetCover makes photoID the album cover; nil clears it
func (s *Service) SetCover(ctx context.Context, albumID int64, photoID *int64) error {
	if _, err := s.store.GetAlbum(ctx, albumID); err != nil {
		return err
	}
	if photoID != nil {
		p, err := s.store.GetPhoto(ctx, *photoID)
		if err != nil {
			return err
		}
		if p.AlbumID != albumID {
			return ErrPhotoNotInAlbum
		}
	}
	if err := s.store.SetCover(ctx, albumID, photoID, s.clock()); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddPhoto records a pending upload at the end of its album
func (s *Service) AddPhoto(ctx context.Context, in NewPhoto) (*Photo, error) {
	if in.MediaType != MediaImage && in.MediaType != MediaVideo {
		return nil, fmt.Errorf("%w: unknown media type %q", ErrInvalidInput, in.MediaType)
	}
	if in.OriginalKey == "" {
		return nil, fmt.Errorf("%w: original key is required", ErrInvalidInput)
	}
	now := s.clock()
	p := &Photo{
		AlbumID:          in.AlbumID,
		MediaType:        in.MediaType,
		OriginalKey:      in.OriginalKey,
		OriginalFilename: in.OriginalFilename,
		ContentType:      in.ContentType,
		SizeBytes:        in.SizeBytes,
		Status:           StatusPending,
		Variants:         map[string]Variant{},
		TakenAt:          in.TakenAt,
		UploadedBy:       in.UploadedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreatePhoto(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

// GetPhoto loads a photo by id
func (s *Service) GetPhoto(ctx context.Context, id int64) (*Photo, error) {
	return s.store.GetPhoto(ctx, id)
}

// ListPhotos returns an album's photos in order
func (s *Service) ListPhotos(ctx context.Context, albumID int64, onlyReady bool) ([]*Photo, error) {
	if _, err := s.store.GetAlbum(ctx, albumID); err != nil {
		return nil, err
	}
	return s.store.ListPhotos(ctx, albumID, onlyReady)
}

// UpdatePhoto edits caption and capture time
func (s *Service) UpdatePhoto(ctx context.Context, id int64, upd PhotoUpdate) (*Photo, error) {
	p, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Caption != nil {
		p.Caption = strings.TrimSpace(*upd.Caption)
	}
	switch {
	case upd.ClearTakenAt:
		p.TakenAt = nil
	case upd.TakenAt != nil:
		t := upd.TakenAt.UTC()
		p.TakenAt = &t
	}
	p.UpdatedAt = s.clock()
	if err := s.store.UpdatePhotoDetails(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

// MovePhoto moves a photo to the end of another album
func (s *Service) MovePhoto(ctx context.Context, photoID, albumID int64) (*Photo, error) {
	if _, err := s.store.MovePhoto(ctx, photoID, albumID, s.clock()); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return s.store.GetPhoto(ctx, photoID)
}

// ReorderPhotos sets the photo order of an album to ids
func (s *Service) ReorderPhotos(ctx context.Context, albumID int64, ids []int64) error {
	if _, err := s.store.GetAlbum(ctx, albumID); err != nil {
		return err
	}
	if err := s.store.ReorderPhotos(ctx, albumID, ids, s.clock()); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeletePhoto removes a photo and its blobs
func (s *Service) DeletePhoto(ctx context.Context, id int64) error {
	p, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePhoto(ctx, id, s.clock()); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.deleteBlobs(ctx, p)
	return nil
}

// MarkProcessing records that a worker picked the photo up
func (s *Service) MarkProcessing(ctx context.Context, id int64) error {
	return s.store.SetStatus(ctx, id, StatusProcessing, "", s.clock())
}

// MarkReady stores the rendered variants and measured dimensions
func (s *Service) MarkReady(ctx context.Context, id int64, variants map[string]Variant, dims Dimensions) error {
	if err := s.store.SetReady(ctx, id, variants, dims, s.clock()); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// MarkFailed records why processing failed
func (s *Service) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.store.SetStatus(ctx, id, StatusFailed, truncateUTF8(reason, maxFailureReason), s.clock())
}

const maxFailureReason = 500

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ResetForReprocessing returns a photo to pending so it can be queued again
func (s *Service) ResetForReprocessing(ctx context.Context, id int64) (*Photo, error) {
	if err := s.store.SetStatus(ctx, id, StatusPending, "", s.clock()); err != nil {
		return nil, err
	}
	return s.store.GetPhoto(ctx, id)
}

// ListStale returns photos pending or processing since before cutoff
func (s *Service) ListStale(ctx context.Context, before time.Time) ([]*Photo, error) {
	return s.store.ListStale(ctx, before.UTC())
}

// deleteBlobs removes a photo's objects; failures are logged, not returned
func (s *Service) deleteBlobs(ctx context.Context, p *Photo) {
	for _, key := range p.BlobKeys() {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"photo_id": p.ID,
				"key":      key,
			}).Warn("failed to delete blob")
		}
	}
}
