package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

func (e *apiEnv) createAlbum(t *testing.T, token, title string, visibility gallery.Visibility) *gallery.Album {
	t.Helper()
	w := e.request(t, "POST", "/api/albums", map[string]string{
		"title":      title,
		"visibility": string(visibility),
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var album gallery.Album
	decodeBody(t, w, &album)
	return &album
}

type uploadResponse struct {
	Photos []gallery.Photo `json:"photos"`
	Failed []uploadFailure `json:"failed"`
}

func (e *apiEnv) upload(t *testing.T, token string, albumID int64, files ...formFile) *uploadResponse {
	t.Helper()
	w := e.serve(multipartRequest(t, "POST", "/api/albums/"+itoa(albumID)+"/photos", token, files...))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp uploadResponse
	decodeBody(t, w, &resp)
	return &resp
}

func TestAlbumCRUD(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	album := env.createAlbum(t, token, "Summer Trip", gallery.VisibilityPublic)
	assert.Equal(t, "summer-trip", album.Slug)
	assert.Equal(t, gallery.VisibilityPublic, album.Visibility)

	w := env.request(t, "GET", "/api/albums/"+itoa(album.ID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "PATCH", "/api/albums/"+itoa(album.ID), map[string]string{
		"title":      "Summer 2026",
		"visibility": "private",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated gallery.Album
	decodeBody(t, w, &updated)
	assert.Equal(t, "Summer 2026", updated.Title)
	assert.Equal(t, gallery.VisibilityPrivate, updated.Visibility)

	w = env.request(t, "PATCH", "/api/albums/"+itoa(album.ID), map[string]string{"visibility": "secret"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "invalid_visibility", resp.Code)

	w = env.request(t, "DELETE", "/api/albums/"+itoa(album.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.request(t, "GET", "/api/albums/"+itoa(album.ID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, env.auditEvents(t, audit.EventAlbumCreated), 1)
	assert.Len(t, env.auditEvents(t, audit.EventAlbumDeleted), 1)
}

func TestAlbumSlugConflict(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	env.createAlbum(t, token, "Trip", gallery.VisibilityPublic)
	second := env.createAlbum(t, token, "Trip", gallery.VisibilityPublic)
	assert.NotEqual(t, "trip", second.Slug)

	w := env.request(t, "PATCH", "/api/albums/"+itoa(second.ID), map[string]string{"slug": "trip"}, token)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "slug_taken", resp.Code)
}

func TestViewerCannotEditGallery(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	env.createUser(t, "vera", auth.RoleViewer)
	editor := env.login(t, "eddie")
	viewer := env.login(t, "vera")

	album := env.createAlbum(t, editor, "Family", gallery.VisibilityPrivate)

	w := env.request(t, "GET", "/api/albums", nil, viewer)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "POST", "/api/albums", map[string]string{"title": "Mine"}, viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, "DELETE", "/api/albums/"+itoa(album.ID), nil, viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// denied mutations are audited
	assert.Len(t, env.auditEvents(t, audit.EventAccessDenied), 2)
}

func TestAlbumListVisibilityFilter(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	env.createAlbum(t, token, "Open", gallery.VisibilityPublic)
	env.createAlbum(t, token, "Link Only", gallery.VisibilityUnlisted)
	env.createAlbum(t, token, "Closed", gallery.VisibilityPrivate)

	w := env.request(t, "GET", "/api/albums?visibility=public,unlisted", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Albums []gallery.Album `json:"albums"`
	}
	decodeBody(t, w, &list)
	require.Len(t, list.Albums, 2)
	for _, a := range list.Albums {
		assert.True(t, a.Visibility.Anonymous())
	}
}

func TestReorderAlbums(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	a := env.createAlbum(t, token, "A", gallery.VisibilityPublic)
	b := env.createAlbum(t, token, "B", gallery.VisibilityPublic)

	w := env.request(t, "PUT", "/api/albums/order", map[string][]int64{"ids": {b.ID}}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "reorder_mismatch", resp.Code)

	w = env.request(t, "PUT", "/api/albums/order", map[string][]int64{"ids": {b.ID, a.ID}}, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.request(t, "GET", "/api/albums", nil, token)
	var list struct {
		Albums []gallery.Album `json:"albums"`
	}
	decodeBody(t, w, &list)
	require.Len(t, list.Albums, 2)
	assert.Equal(t, b.ID, list.Albums[0].ID)
	assert.Equal(t, a.ID, list.Albums[1].ID)
}

func TestUploadPhotos(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.createUser(t, "admin", auth.RoleAdmin)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Uploads", gallery.VisibilityPrivate)

	img := pngBytes(t, 16, 12)
	resp := env.upload(t, token, album.ID,
		formFile{field: "files", filename: "one.png", contentType: "image/png", data: img},
		formFile{field: "files", filename: "two.png", contentType: "image/png", data: img},
		formFile{field: "files", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	)
	require.Len(t, resp.Photos, 2)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "notes.txt", resp.Failed[0].Filename)
	assert.Equal(t, "unsupported_type", resp.Failed[0].Code)

	for _, p := range resp.Photos {
		assert.Equal(t, gallery.StatusPending, p.Status)
		assert.Equal(t, album.ID, p.AlbumID)
	}
	assert.Equal(t, []int64{resp.Photos[0].ID, resp.Photos[1].ID}, env.queue.ids())

	w := env.request(t, "GET", "/api/albums/"+itoa(album.ID)+"/photos", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Photos []gallery.Photo `json:"photos"`
	}
	decodeBody(t, w, &list)
	assert.Len(t, list.Photos, 2)

	w = env.request(t, "GET", "/api/albums/"+itoa(album.ID)+"/photos?ready=true", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	assert.Empty(t, list.Photos)

	assert.Len(t, env.auditEvents(t, audit.EventPhotoUploaded), 2)
	assert.True(t, hasNotification(env.notifications(t, admin.ID), notifications.EventPhotoUploaded))
}

func TestUploadRejectsEverything(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Uploads", gallery.VisibilityPrivate)

	w := env.serve(multipartRequest(t, "POST", "/api/albums/"+itoa(album.ID)+"/photos", token,
		formFile{field: "file", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	))
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = env.serve(multipartRequest(t, "POST", "/api/albums/9999/photos", token,
		formFile{field: "file", filename: "a.png", contentType: "image/png", data: pngBytes(t, 2, 2)},
	))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.serve(multipartRequest(t, "POST", "/api/albums/"+itoa(album.ID)+"/photos", token))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, "POST", "/api/albums/"+itoa(album.ID)+"/photos", map[string]string{"file": "x"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, env.queue.ids())
}

func TestPhotoEditMoveAndReorder(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	src := env.createAlbum(t, token, "Source", gallery.VisibilityPrivate)
	dst := env.createAlbum(t, token, "Destination", gallery.VisibilityPrivate)

	img := pngBytes(t, 4, 4)
	resp := env.upload(t, token, src.ID,
		formFile{field: "file", filename: "a.png", contentType: "image/png", data: img},
		formFile{field: "file", filename: "b.png", contentType: "image/png", data: img},
	)
	require.Len(t, resp.Photos, 2)
	first, second := resp.Photos[0], resp.Photos[1]

	w := env.request(t, "PATCH", "/api/photos/"+itoa(first.ID), map[string]string{"caption": "sunset"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var photo gallery.Photo
	decodeBody(t, w, &photo)
	assert.Equal(t, "sunset", photo.Caption)

	w = env.request(t, "PUT", "/api/albums/"+itoa(src.ID)+"/photos/order", map[string][]int64{"ids": {second.ID, first.ID}}, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.request(t, "PUT", "/api/albums/"+itoa(src.ID)+"/cover", map[string]int64{"photo_id": second.ID}, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.request(t, "PUT", "/api/albums/"+itoa(dst.ID)+"/cover", map[string]int64{"photo_id": second.ID}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errResp httputil.ErrorResponse
	decodeBody(t, w, &errResp)
	assert.Equal(t, "photo_not_in_album", errResp.Code)

	w = env.request(t, "POST", "/api/photos/"+itoa(first.ID)+"/move", map[string]int64{"album_id": dst.ID}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &photo)
	assert.Equal(t, dst.ID, photo.AlbumID)

	w = env.request(t, "POST", "/api/photos/"+itoa(first.ID)+"/move", map[string]int64{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	moved := env.auditEvents(t, audit.EventPhotoMoved)
	require.Len(t, moved, 1)

	w = env.request(t, "DELETE", "/api/photos/"+itoa(first.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.request(t, "GET", "/api/photos/"+itoa(first.ID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReprocessPhoto(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Album", gallery.VisibilityPrivate)
	resp := env.upload(t, token, album.ID,
		formFile{field: "file", filename: "a.png", contentType: "image/png", data: pngBytes(t, 4, 4)},
	)
	id := resp.Photos[0].ID
	require.NoError(t, env.gallery.MarkFailed(context.Background(), id, "decoder crashed"))

	w := env.request(t, "POST", "/api/photos/"+itoa(id)+"/reprocess", nil, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var photo gallery.Photo
	decodeBody(t, w, &photo)
	assert.Equal(t, gallery.StatusPending, photo.Status)
	assert.Empty(t, photo.FailureReason)
	assert.Equal(t, []int64{id, id}, env.queue.ids())

	w = env.request(t, "POST", "/api/photos/9999/reprocess", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGalleryWithoutMediaPipeline(t *testing.T) {
	env := newAPIEnv(t, withoutMediaPipeline())
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")
	album := env.createAlbum(t, token, "Album", gallery.VisibilityPrivate)

	w := env.serve(multipartRequest(t, "POST", "/api/albums/"+itoa(album.ID)+"/photos", token,
		formFile{field: "file", filename: "a.png", contentType: "image/png", data: pngBytes(t, 2, 2)},
	))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.request(t, "POST", "/api/photos/1/reprocess", nil, token)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
