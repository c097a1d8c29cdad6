package api

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// readyPhoto uploads an original and marks it processed with a single
// thumbnail variant
func (e *apiEnv) readyPhoto(t *testing.T, token string, albumID int64, thumb []byte) *gallery.Photo {
	t.Helper()
	ctx := context.Background()
	resp := e.upload(t, token, albumID,
		formFile{field: "file", filename: "original.png", contentType: "image/png", data: pngBytes(t, 8, 8)},
	)
	require.Len(t, resp.Photos, 1)
	id := resp.Photos[0].ID

	key := storage.VariantKey(id, "thumb", "jpg")
	require.NoError(t, e.blobs.Put(ctx, key, bytes.NewReader(thumb), "image/jpeg"))
	require.NoError(t, e.gallery.MarkReady(ctx, id, map[string]gallery.Variant{
		"thumb": {Key: key, ContentType: "image/jpeg", Width: 8, Height: 8, Size: int64(len(thumb))},
	}, gallery.Dimensions{Width: 8, Height: 8}))

	photo, err := e.gallery.GetPhoto(ctx, id)
	require.NoError(t, err)
	return photo
}

func TestPublicAlbumsHidePrivate(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	public := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)
	unlisted := env.createAlbum(t, token, "By Link", gallery.VisibilityUnlisted)
	private := env.createAlbum(t, token, "Family", gallery.VisibilityPrivate)

	w := env.request(t, "GET", "/api/public/albums", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Albums []gallery.Album `json:"albums"`
	}
	decodeBody(t, w, &list)
	require.Len(t, list.Albums, 1)
	assert.Equal(t, public.ID, list.Albums[0].ID)

	w = env.request(t, "GET", "/api/public/albums/"+unlisted.Slug, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "GET", "/api/public/albums/"+private.Slug, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, "GET", "/api/public/albums/"+private.Slug, nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "GET", "/api/public/albums/no-such-album", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicAlbumViewListsReadyPhotos(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)

	ready := env.readyPhoto(t, token, album.ID, []byte("thumbnail-bytes"))
	env.upload(t, token, album.ID,
		formFile{field: "file", filename: "pending.png", contentType: "image/png", data: pngBytes(t, 2, 2)},
	)

	w := env.request(t, "GET", "/api/public/albums/"+album.Slug, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view gallery.AlbumView
	decodeBody(t, w, &view)
	require.Len(t, view.Photos, 1)
	assert.Equal(t, ready.ID, view.Photos[0].ID)
}

func TestServeMediaVariant(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)
	thumb := []byte("thumbnail-bytes")
	photo := env.readyPhoto(t, token, album.ID, thumb)
	path := "/api/media/" + itoa(photo.ID) + "/thumb"

	w := env.request(t, "GET", path, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, thumb, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, 1, env.cache.len())

	// served from memory the second time, honoring conditional requests
	r, err := http.NewRequest("GET", path, nil)
	require.NoError(t, err)
	r.Header.Set("If-None-Match", etag)
	w = env.serve(r)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = env.request(t, "HEAD", path, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = env.request(t, "GET", "/api/media/"+itoa(photo.ID)+"/large", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeMediaReprocessedVariantNotStale(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)
	photo := env.readyPhoto(t, token, album.ID, []byte("first-render"))
	path := "/api/media/" + itoa(photo.ID) + "/thumb"

	w := env.request(t, "GET", path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "first-render", w.Body.String())

	ctx := context.Background()
	key := photo.Variants["thumb"].Key
	require.NoError(t, env.blobs.Put(ctx, key, bytes.NewReader([]byte("second-render")), "image/jpeg"))
	_, err := env.gallery.ResetForReprocessing(ctx, photo.ID)
	require.NoError(t, err)
	require.NoError(t, env.gallery.MarkReady(ctx, photo.ID, photo.Variants, gallery.Dimensions{Width: 8, Height: 8}))

	w = env.request(t, "GET", path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second-render", w.Body.String())
}

func TestServeMediaAccessRules(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	public := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)
	private := env.createAlbum(t, token, "Family", gallery.VisibilityPrivate)
	shared := env.readyPhoto(t, token, public.ID, []byte("public-thumb"))
	hidden := env.readyPhoto(t, token, private.ID, []byte("private-thumb"))

	// originals need a session even in public albums
	w := env.request(t, "GET", "/api/media/"+itoa(shared.ID)+"/original", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.request(t, "GET", "/api/media/"+itoa(shared.ID)+"/original", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = env.request(t, "GET", "/api/media/"+itoa(hidden.ID)+"/thumb", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.request(t, "GET", "/api/media/"+itoa(hidden.ID)+"/thumb", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "private, max-age=3600", w.Header().Get("Cache-Control"))

	// pending uploads are invisible to visitors
	pending := env.upload(t, token, public.ID,
		formFile{field: "file", filename: "pending.png", contentType: "image/png", data: pngBytes(t, 2, 2)},
	).Photos[0]
	w = env.request(t, "GET", "/api/media/"+itoa(pending.ID)+"/original", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, "GET", "/api/media/424242/thumb", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeMediaWithoutCache(t *testing.T) {
	env := newAPIEnv(t, withConfig(func(c *Config) { c.VariantCacheSize = 0 }))
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Open House", gallery.VisibilityPublic)
	photo := env.readyPhoto(t, token, album.ID, []byte("thumbnail-bytes"))

	w := env.request(t, "GET", "/api/media/"+itoa(photo.ID)+"/thumb", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "thumbnail-bytes", w.Body.String())
	assert.False(t, env.cache.enabled())
}

func TestPublicSettingsLocale(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "alice", auth.RoleViewer)
	token := env.login(t, "alice")

	type settingsResponse struct {
		Locale           string   `json:"locale"`
		DefaultLocale    string   `json:"default_locale"`
		SupportedLocales []string `json:"supported_locales"`
		Authenticated    bool     `json:"authenticated"`
		Branding         struct {
			SiteTitle string `json:"site_title"`
		} `json:"branding"`
	}
	get := func(path, acceptLanguage, token string) settingsResponse {
		r, err := http.NewRequest("GET", path, nil)
		require.NoError(t, err)
		if acceptLanguage != "" {
			r.Header.Set("Accept-Language", acceptLanguage)
		}
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := env.serve(r)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp settingsResponse
		decodeBody(t, w, &resp)
		return resp
	}

	resp := get("/api/public/settings", "", "")
	assert.Equal(t, "en", resp.Locale)
	assert.Equal(t, "Lightbox", resp.Branding.SiteTitle)
	assert.Contains(t, resp.SupportedLocales, "ja")
	assert.False(t, resp.Authenticated)

	assert.Equal(t, "ja", get("/api/public/settings", "ja-JP,ja;q=0.9,en;q=0.5", "").Locale)
	assert.Equal(t, "nl", get("/api/public/settings?locale=nl", "ja", "").Locale)

	// a signed-in user's preference beats everything else
	w := env.request(t, "PATCH", "/api/auth/me", map[string]string{"locale": "ko"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = get("/api/public/settings?locale=nl", "ja", token)
	assert.Equal(t, "ko", resp.Locale)
	assert.True(t, resp.Authenticated)

	// the site default applies when nothing else is known
	w = env.request(t, "PUT", "/api/admin/branding", map[string]string{"default_locale": "sv"}, adminToken(t, env))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = get("/api/public/settings", "", "")
	assert.Equal(t, "sv", resp.Locale)
	assert.Equal(t, "sv", resp.DefaultLocale)
}

func adminToken(t *testing.T, env *apiEnv) string {
	t.Helper()
	env.createUser(t, "site-admin", auth.RoleAdmin)
	return env.login(t, "site-admin")
}
