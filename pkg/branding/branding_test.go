package branding

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

type testEnv struct {
	svc   *Service
	blobs *storage.FileSystemBlobStore
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Driver: "sqlite3", URL: "file::memory:?_foreign_keys=on"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	blobs, err := storage.NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(NewStore(db.DB), blobs, storage.NewCache(client, storage.DefaultRedisConfig(), nil), nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return &testEnv{svc: svc, blobs: blobs, redis: mr}
}

func strPtr(s string) *string { return &s }

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestGetDefaults(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Lightbox", s.SiteTitle)
	assert.Equal(t, "en", s.DefaultLocale)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	actor := int64(1)

	// warm the cache so the update has to invalidate it
	_, err := env.svc.Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, env.redis.Keys())

	s, err := env.svc.Update(ctx, nil, Update{
		SiteTitle:     strPtr("  Family Photos "),
		PrimaryColor:  strPtr("#AABBCC"),
		ContactEmail:  strPtr("hello@example.com"),
		DefaultLocale: strPtr("zh-cn"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Family Photos", s.SiteTitle)
	assert.Equal(t, "#aabbcc", s.PrimaryColor)
	assert.Equal(t, "zh-CN", s.DefaultLocale)
	assert.Empty(t, env.redis.Keys())

	got, err := env.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Family Photos", got.SiteTitle)
	assert.Equal(t, "#f78166", got.AccentColor)

	s, err = env.svc.Update(ctx, &actor, Update{Tagline: strPtr("Since 1999")})
	require.NoError(t, err)
	assert.Equal(t, "Family Photos", s.SiteTitle)
	require.NotNil(t, s.UpdatedBy)
	assert.Equal(t, actor, *s.UpdatedBy)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name string
		upd  Update
		want error
	}{
		{name: "short color", upd: Update{PrimaryColor: strPtr("#abc")}, want: ErrInvalidColor},
		{name: "named color", upd: Update{AccentColor: strPtr("red")}, want: ErrInvalidColor},
		{name: "empty title", upd: Update{SiteTitle: strPtr("   ")}, want: ErrInvalidInput},
		{name: "bad email", upd: Update{ContactEmail: strPtr("Bob <bob@example.com>")}, want: ErrInvalidInput},
		{name: "unsupported locale", upd: Update{DefaultLocale: strPtr("fr")}, want: ErrInvalidInput},
		{name: "long tagline", upd: Update{Tagline: strPtr(string(bytes.Repeat([]byte("x"), 201)))}, want: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Update(ctx, nil, tt.upd)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	s, err := env.svc.Update(ctx, nil, Update{ContactEmail: strPtr("")})
	require.NoError(t, err)
	assert.Empty(t, s.ContactEmail)
}

func TestLogoLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	s, err := env.svc.SetLogo(ctx, nil, bytes.NewReader(pngImage(t, 1024, 512)))
	require.NoError(t, err)
	first := s.LogoKey
	require.NotEmpty(t, first)

	rc, info, err := env.svc.OpenAsset(ctx, AssetLogo)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 256, cfg.Height)

	s, err = env.svc.SetLogo(ctx, nil, bytes.NewReader(pngImage(t, 100, 100)))
	require.NoError(t, err)
	assert.NotEqual(t, first, s.LogoKey)
	exists, err := env.blobs.Exists(ctx, first)
	require.NoError(t, err)
	assert.False(t, exists)

	pub := s.Public("/api/branding")
	assert.Equal(t, "/api/branding/logo?v=1709283600", pub.LogoURL)
	assert.Empty(t, pub.FaviconURL)

	second := s.LogoKey
	s, err = env.svc.ClearLogo(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, s.LogoKey)
	exists, err = env.blobs.Exists(ctx, second)
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = env.svc.OpenAsset(ctx, AssetLogo)
	assert.ErrorIs(t, err, ErrNoAsset)
}

func TestFaviconRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.SetFavicon(context.Background(), nil, bytes.NewReader([]byte("<svg/>")))
	require.Error(t, err)
}

func TestParseAsset(t *testing.T) {
	a, err := ParseAsset("favicon")
	require.NoError(t, err)
	assert.Equal(t, AssetFavicon, a)
	_, err = ParseAsset("banner")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}
