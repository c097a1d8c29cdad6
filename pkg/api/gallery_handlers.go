package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

// multipartMemory is how much of an upload form is held in memory before
// parts spill to temporary files
const multipartMemory = 32 << 20

// GalleryHandlers serves album and photo management. Reads need a session;
// changes need the editor role.
type GalleryHandlers struct {
	gallery  *gallery.Service
	uploader PhotoUploader
	media    MediaQueue
	notifier Notifier
}

// NewGalleryHandlers creates gallery handlers. uploader and queue may be
// nil, in which case uploads and reprocessing answer 503.
func NewGalleryHandlers(svc *gallery.Service, uploader PhotoUploader, queue MediaQueue, notifier Notifier) *GalleryHandlers {
	return &GalleryHandlers{
		gallery:  svc,
		uploader: uploader,
		media:    queue,
		notifier: notifier,
	}
}

// RegisterRoutes registers album and photo routes
func (h *GalleryHandlers) RegisterRoutes(router *mux.Router) {
	editor := func(fn http.HandlerFunc) http.Handler {
		return requireRole(auth.RoleEditor, fn)
	}

	// Album routes
	router.Handle("/albums", requireAuth(h.listAlbums)).Methods("GET")
	router.Handle("/albums", editor(h.createAlbum)).Methods("POST")
	router.Handle("/albums/order", editor(h.reorderAlbums)).Methods("PUT")
	router.Handle("/albums/{id:[0-9]+}", requireAuth(h.getAlbum)).Methods("GET")
	router.Handle("/albums/{id:[0-9]+}", editor(h.updateAlbum)).Methods("PATCH")
	router.Handle("/albums/{id:[0-9]+}", editor(h.deleteAlbum)).Methods("DELETE")
	router.Handle("/albums/{id:[0-9]+}/cover", editor(h.setCover)).Methods("PUT")

	// Photo routes
	router.Handle("/albums/{id:[0-9]+}/photos", requireAuth(h.listPhotos)).Methods("GET")
	router.Handle("/albums/{id:[0-9]+}/photos", editor(h.uploadPhotos)).Methods("POST")
	router.Handle("/albums/{id:[0-9]+}/photos/order", editor(h.reorderPhotos)).Methods("PUT")
	router.Handle("/photos/{id:[0-9]+}", requireAuth(h.getPhoto)).Methods("GET")
	router.Handle("/photos/{id:[0-9]+}", editor(h.updatePhoto)).Methods("PATCH")
	router.Handle("/photos/{id:[0-9]+}", editor(h.deletePhoto)).Methods("DELETE")
	router.Handle("/photos/{id:[0-9]+}/move", editor(h.movePhoto)).Methods("POST")
	router.Handle("/photos/{id:[0-9]+}/reprocess", editor(h.reprocessPhoto)).Methods("POST")
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// listAlbums handles GET /api/albums
func (h *GalleryHandlers) listAlbums(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.Pagination(r, 100, 500)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := gallery.AlbumFilter{Limit: limit, Offset: offset}
	if v := httputil.QueryString(r, "visibility", ""); v != "" {
		for _, part := range strings.Split(v, ",") {
			filter.Visibility = append(filter.Visibility, gallery.Visibility(strings.TrimSpace(part)))
		}
	}

	albums, err := h.gallery.ListAlbums(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "list albums")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"albums": albums,
		"limit":  limit,
		"offset": offset,
	})
}

// createAlbum handles POST /api/albums
func (h *GalleryHandlers) createAlbum(w http.ResponseWriter, r *http.Request) {
	var req gallery.NewAlbum
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required("title", req.Title),
		httputil.MaxLength("title", req.Title, 200),
		httputil.MaxLength("description", req.Description, 5000),
	) {
		return
	}
	req.CreatedBy = actorID(r)

	album, err := h.gallery.CreateAlbum(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "create album")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAlbumCreated, audit.StatusSuccess).
		Target(audit.TargetAlbum, idString(album.ID)).
		With("slug", album.Slug))
	httputil.WriteCreated(w, album)
}

// getAlbum handles GET /api/albums/{id}
func (h *GalleryHandlers) getAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	album, err := h.gallery.GetAlbum(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "load album")
		return
	}
	httputil.WriteSuccess(w, album)
}

// updateAlbum handles PATCH /api/albums/{id}
func (h *GalleryHandlers) updateAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var upd gallery.AlbumUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	album, err := h.gallery.UpdateAlbum(r.Context(), id, upd)
	if err != nil {
		writeServiceError(w, r, err, "update album")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAlbumUpdated, audit.StatusSuccess).
		Target(audit.TargetAlbum, idString(id)).
		With("slug", album.Slug).
		With("visibility", album.Visibility))
	httputil.WriteSuccess(w, album)
}

// deleteAlbum handles DELETE /api/albums/{id}
func (h *GalleryHandlers) deleteAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.gallery.DeleteAlbum(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "delete album")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAlbumDeleted, audit.StatusSuccess).
		Target(audit.TargetAlbum, idString(id)))
	httputil.WriteNoContent(w)
}

type orderRequest struct {
	IDs []int64 `json:"ids"`
}

// reorderAlbums handles PUT /api/albums/order
func (h *GalleryHandlers) reorderAlbums(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.gallery.ReorderAlbums(r.Context(), req.IDs); err != nil {
		writeServiceError(w, r, err, "reorder albums")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAlbumsReordered, audit.StatusSuccess).
		With("count", len(req.IDs)))
	httputil.WriteNoContent(w)
}

// setCover handles PUT /api/albums/{id}/cover. A null photo_id clears it.
func (h *GalleryHandlers) setCover(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		PhotoID *int64 `json:"photo_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.gallery.SetCover(r.Context(), id, req.PhotoID); err != nil {
		writeServiceError(w, r, err, "set album cover")
		return
	}
	event := audit.NewEvent(r.Context(), audit.EventAlbumUpdated, audit.StatusSuccess).
		Target(audit.TargetAlbum, idString(id))
	if req.PhotoID != nil {
		event.With("cover_photo_id", *req.PhotoID)
	} else {
		event.With("cover_photo_id", nil)
	}
	recordAudit(r, event)
	httputil.WriteNoContent(w)
}

// listPhotos handles GET /api/albums/{id}/photos
func (h *GalleryHandlers) listPhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	onlyReady, err := httputil.QueryBool(r, "ready", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if _, err := h.gallery.GetAlbum(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "load album")
		return
	}
	photos, err := h.gallery.ListPhotos(r.Context(), id, onlyReady)
	if err != nil {
		writeServiceError(w, r, err, "list photos")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"photos": photos})
}

type uploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
}

// uploadPhotos handles POST /api/albums/{id}/photos. Every file part of the
// multipart form is stored; per-file failures are reported alongside the
// accepted photos.
func (h *GalleryHandlers) uploadPhotos(w http.ResponseWriter, r *http.Request) {
	albumID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if h.uploader == nil {
		httputil.WriteServiceUnavailable(w, "uploads are not available")
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		httputil.WriteBadRequest(w, "expected a multipart form with file parts")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var takenAt *time.Time
	if v := r.FormValue("taken_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteValidationError(w, "validation failed", map[string]string{"taken_at": "taken_at must be RFC 3339"})
			return
		}
		t = t.UTC()
		takenAt = &t
	}

	var files []*multipart.FileHeader
	for _, field := range []string{"file", "files"} {
		files = append(files, r.MultipartForm.File[field]...)
	}
	if len(files) == 0 {
		httputil.WriteValidationError(w, "validation failed", map[string]string{"file": "at least one file is required"})
		return
	}

	var (
		photos   []*gallery.Photo
		failures []uploadFailure
		firstErr error
	)
	for _, fh := range files {
		photo, err := h.uploadOne(r, albumID, fh, takenAt)
		if err != nil {
			if errors.Is(err, gallery.ErrNotFound) {
				writeServiceError(w, r, err, "upload photo")
				return
			}
			if firstErr == nil {
				firstErr = err
			}
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: err.Error(), Code: errorCode(err)})
			continue
		}
		photos = append(photos, photo)
		recordAudit(r, audit.NewEvent(r.Context(), audit.EventPhotoUploaded, audit.StatusSuccess).
			Target(audit.TargetPhoto, idString(photo.ID)).
			With("album_id", albumID).
			With("filename", photo.OriginalFilename).
			With("size_bytes", photo.SizeBytes))
	}

	if len(photos) == 0 {
		writeServiceError(w, r, firstErr, "upload photo")
		return
	}

	h.notifyUploaded(r, albumID, photos)
	httputil.WriteCreated(w, map[string]interface{}{
		"photos": photos,
		"failed": failures,
	})
}

func (h *GalleryHandlers) uploadOne(r *http.Request, albumID int64, fh *multipart.FileHeader, takenAt *time.Time) (*gallery.Photo, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	defer f.Close()

	return h.uploader.Upload(r.Context(), media.UploadRequest{
		AlbumID:     albumID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
		TakenAt:     takenAt,
		UploadedBy:  actorID(r),
	})
}

func (h *GalleryHandlers) notifyUploaded(r *http.Request, albumID int64, photos []*gallery.Photo) {
	albumTitle := fmt.Sprintf("album %d", albumID)
	if album, err := h.gallery.GetAlbum(r.Context(), albumID); err == nil {
		albumTitle = album.Title
	}
	uploader := "Someone"
	if p := principal(r); p != nil {
		uploader = p.User.Username
	}
	body := fmt.Sprintf("%s uploaded %s to %s.", uploader, photos[0].OriginalFilename, albumTitle)
	if len(photos) > 1 {
		body = fmt.Sprintf("%s uploaded %d files to %s.", uploader, len(photos), albumTitle)
	}
	notify(r, h.notifier, notifications.Event{
		Type:  notifications.EventPhotoUploaded,
		Title: "New uploads",
		Body:  body,
		Link:  fmt.Sprintf("/admin/albums/%d", albumID),
	})
}

// reorderPhotos handles PUT /api/albums/{id}/photos/order
func (h *GalleryHandlers) reorderPhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req orderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.gallery.ReorderPhotos(r.Context(), id, req.IDs); err != nil {
		writeServiceError(w, r, err, "reorder photos")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventAlbumUpdated, audit.StatusSuccess).
		Target(audit.TargetAlbum, idString(id)).
		With("reordered_photos", len(req.IDs)))
	httputil.WriteNoContent(w)
}

// getPhoto handles GET /api/photos/{id}
func (h *GalleryHandlers) getPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	photo, err := h.gallery.GetPhoto(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "load photo")
		return
	}
	httputil.WriteSuccess(w, photo)
}

// updatePhoto handles PATCH /api/photos/{id}
func (h *GalleryHandlers) updatePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var upd gallery.PhotoUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	if upd.Caption != nil && !httputil.ValidateAll(w, httputil.MaxLength("caption", *upd.Caption, 2000)) {
		return
	}
	photo, err := h.gallery.UpdatePhoto(r.Context(), id, upd)
	if err != nil {
		writeServiceError(w, r, err, "update photo")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventPhotoUpdated, audit.StatusSuccess).
		Target(audit.TargetPhoto, idString(id)))
	httputil.WriteSuccess(w, photo)
}

// deletePhoto handles DELETE /api/photos/{id}
func (h *GalleryHandlers) deletePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.gallery.DeletePhoto(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "delete photo")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventPhotoDeleted, audit.StatusSuccess).
		Target(audit.TargetPhoto, idString(id)))
	httputil.WriteNoContent(w)
}

// movePhoto handles POST /api/photos/{id}/move
func (h *GalleryHandlers) movePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AlbumID int64 `json:"album_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.AlbumID <= 0 {
		httputil.WriteValidationError(w, "validation failed", map[string]string{"album_id": "album_id is required"})
		return
	}
	before, err := h.gallery.GetPhoto(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "load photo")
		return
	}
	photo, err := h.gallery.MovePhoto(r.Context(), id, req.AlbumID)
	if err != nil {
		writeServiceError(w, r, err, "move photo")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventPhotoMoved, audit.StatusSuccess).
		Target(audit.TargetPhoto, idString(id)).
		With("from_album_id", before.AlbumID).
		With("to_album_id", req.AlbumID))
	httputil.WriteSuccess(w, photo)
}

// reprocessPhoto handles POST /api/photos/{id}/reprocess
func (h *GalleryHandlers) reprocessPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if h.media == nil {
		httputil.WriteServiceUnavailable(w, "media processing is not available")
		return
	}
	photo, err := h.media.Reprocess(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "reprocess photo")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventPhotoReprocessed, audit.StatusSuccess).
		Target(audit.TargetPhoto, idString(id)))
	httputil.WriteAccepted(w, photo)
}
