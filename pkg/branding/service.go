package branding

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

const cacheID = "settings"

// ParseAsset maps a URL segment to an Asset
func ParseAsset(name string) (Asset, error) {
	switch Asset(name) {
	case AssetLogo, AssetFavicon:
		return Asset(name), nil
	}
	return "", ErrUnknownAsset
}

// Service reads and edits branding, keeping the cache and assets in step
type Service struct {
	store  *Store
	blobs  storage.BlobStore
	cache  *storage.Cache
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a branding service; cache may be nil
func NewService(store *Store, blobs storage.BlobStore, cache *storage.Cache, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{store: store, blobs: blobs, cache: cache, logger: logger, now: time.Now}
}

// Get returns the current settings
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	var cached Settings
	if hit, err := s.cache.Get(ctx, storage.CacheBranding, cacheID, &cached); err != nil {
		s.logger.WithError(err).Warn("branding cache read failed")
	} else if hit {
		return &cached, nil
	}

	settings, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, storage.CacheBranding, cacheID, settings); err != nil {
		s.logger.WithError(err).Warn("branding cache write failed")
	}
	return settings, nil
}

func (s *Service) save(ctx context.Context, settings *Settings, actorID *int64) error {
	settings.UpdatedAt = s.now().UTC()
	settings.UpdatedBy = actorID
	if err := s.store.Save(ctx, settings); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, storage.CacheBranding, cacheID); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate branding cache")
	}
	return nil
}

// Update validates and applies upd
func (s *Service) Update(ctx context.Context, actorID *int64, upd Update) (*Settings, error) {
	settings, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := upd.apply(settings); err != nil {
		return nil, err
	}
	if err := s.save(ctx, settings, actorID); err != nil {
		return nil, err
	}
	return settings, nil
}

// SetAsset scales the uploaded image to PNG, stores it and removes the
// previous one
func (s *Service) SetAsset(ctx context.Context, actorID *int64, asset Asset, r io.Reader) (*Settings, error) {
	data, _, _, err := media.FitPNG(r, asset.maxEdge())
	if err != nil {
		return nil, err
	}

	settings, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	key := storage.BrandingKey(string(asset), "png")
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), "image/png"); err != nil {
		return nil, err
	}

	old := settings.assetKey(asset)
	settings.setAssetKey(asset, key)
	if err := s.save(ctx, settings, actorID); err != nil {
		s.deleteBlob(ctx, key)
		return nil, err
	}
	s.deleteBlob(ctx, old)
	return settings, nil
}

// SetLogo replaces the logo
func (s *Service) SetLogo(ctx context.Context, actorID *int64, r io.Reader) (*Settings, error) {
	return s.SetAsset(ctx, actorID, AssetLogo, r)
}

// SetFavicon replaces the favicon
func (s *Service) SetFavicon(ctx context.Context, actorID *int64, r io.Reader) (*Settings, error) {
	return s.SetAsset(ctx, actorID, AssetFavicon, r)
}

// ClearAsset removes an asset; clearing an unset asset is a no-op
func (s *Service) ClearAsset(ctx context.Context, actorID *int64, asset Asset) (*Settings, error) {
	settings, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	old := settings.assetKey(asset)
	if old == "" {
		return settings, nil
	}
	settings.setAssetKey(asset, "")
	if err := s.save(ctx, settings, actorID); err != nil {
		return nil, err
	}
	s.deleteBlob(ctx, old)
	return settings, nil
}

// ClearLogo removes the logo
func (s *Service) ClearLogo(ctx context.Context, actorID *int64) (*Settings, error) {
	return s.ClearAsset(ctx, actorID, AssetLogo)
}

// OpenAsset streams the stored asset
func (s *Service) OpenAsset(ctx context.Context, asset Asset) (io.ReadCloser, *storage.ObjectInfo, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	key := settings.assetKey(asset)
	if key == "" {
		return nil, nil, ErrNoAsset
	}
	return s.blobs.Get(ctx, key)
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to delete branding asset")
	}
}
