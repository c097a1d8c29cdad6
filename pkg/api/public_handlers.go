package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/httputil"
	"github.com/platinummonkey/lightbox/pkg/i18n"
	"github.com/platinummonkey/lightbox/pkg/observability"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

// originalVariant names the uploaded file in media URLs
const originalVariant = "original"

// PublicHandlers serves the visitor-facing gallery. Private albums and
// unprocessed media are hidden from anonymous callers as if they did not
// exist.
type PublicHandlers struct {
	gallery  *gallery.Service
	branding *branding.Service
	blobs    storage.BlobStore
	cache    *variantCache
}

// NewPublicHandlers creates public handlers
func NewPublicHandlers(svc *gallery.Service, brand *branding.Service, blobs storage.BlobStore, cache *variantCache) *PublicHandlers {
	return &PublicHandlers{
		gallery:  svc,
		branding: brand,
		blobs:    blobs,
		cache:    cache,
	}
}

// RegisterRoutes registers the public routes
func (h *PublicHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/public/albums", h.listAlbums).Methods("GET")
	router.HandleFunc("/public/albums/{slug}", h.getAlbum).Methods("GET")
	router.HandleFunc("/public/settings", h.settings).Methods("GET")
	router.HandleFunc("/media/{photoID:[0-9]+}/{variant}", h.serveMedia).Methods("GET", "HEAD")
}

// listAlbums handles GET /api/public/albums
func (h *PublicHandlers) listAlbums(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.Pagination(r, 50, 200)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	albums, err := h.gallery.ListAlbums(r.Context(), gallery.AlbumFilter{
		Visibility: []gallery.Visibility{gallery.VisibilityPublic},
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeServiceError(w, r, err, "list public albums")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"albums": albums,
		"limit":  limit,
		"offset": offset,
	})
}

// getAlbum handles GET /api/public/albums/{slug}
func (h *PublicHandlers) getAlbum(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.PathStringOrError(w, r, "slug")
	if !ok {
		return
	}
	view, err := h.gallery.AlbumView(r.Context(), slug)
	if err != nil {
		writeServiceError(w, r, err, "load album")
		return
	}
	if !view.Album.Visibility.Anonymous() && principal(r) == nil {
		httputil.WriteNotFound(w, "album not found")
		return
	}
	httputil.WriteSuccess(w, view)
}

// settings handles GET /api/public/settings. The locale is the signed-in
// user's preference, then ?locale=, then Accept-Language, then the site
// default.
func (h *PublicHandlers) settings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.branding.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load branding")
		return
	}

	pref := r.URL.Query().Get("locale")
	p := principal(r)
	if p != nil && p.User.Locale != "" {
		pref = p.User.Locale
	}
	if i18n.Canonical(pref) == "" && r.Header.Get("Accept-Language") == "" {
		pref = settings.DefaultLocale
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"branding":          settings.Public(brandingAssetBase),
		"locale":            i18n.Negotiate(r.Header.Get("Accept-Language"), pref),
		"default_locale":    settings.DefaultLocale,
		"supported_locales": i18n.Supported,
		"authenticated":     p != nil,
	})
}

// serveMedia handles GET /api/media/{photoID}/{variant}
func (h *PublicHandlers) serveMedia(w http.ResponseWriter, r *http.Request) {
	photoID, ok := httputil.PathInt64OrError(w, r, "photoID")
	if !ok {
		return
	}
	name := mux.Vars(r)["variant"]
	ctx := r.Context()

	photo, err := h.gallery.GetPhoto(ctx, photoID)
	if err != nil {
		writeServiceError(w, r, err, "load photo")
		return
	}
	album, err := h.gallery.GetAlbum(ctx, photo.AlbumID)
	if err != nil {
		writeServiceError(w, r, err, "load album")
		return
	}

	signedIn := principal(r) != nil
	if !signedIn && (!album.Visibility.Anonymous() || photo.Status != gallery.StatusReady) {
		httputil.WriteNotFound(w, "media not found")
		return
	}

	var key, contentType string
	if name == originalVariant {
		if !signedIn {
			httputil.WriteNotFound(w, "media not found")
			return
		}
		key, contentType = photo.OriginalKey, photo.ContentType
	} else {
		v, ok := photo.Variants[name]
		if !ok {
			httputil.WriteNotFound(w, "media not found")
			return
		}
		key, contentType = v.Key, v.ContentType
	}

	w.Header().Set("ETag", fmt.Sprintf(`"%d-%s-%d"`, photo.ID, name, photo.UpdatedAt.Unix()))
	if album.Visibility.Anonymous() {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	}

	// variants are rewritten in place on reprocess, so the key carries the
	// photo's update time
	cacheKey := key + "@" + strconv.FormatInt(photo.UpdatedAt.UnixNano(), 10)
	if cv, ok := h.cache.get(cacheKey); ok {
		w.Header().Set("Content-Type", cv.contentType)
		http.ServeContent(w, r, "", cv.modTime, bytes.NewReader(cv.data))
		return
	}

	body, info, err := h.blobs.Get(ctx, key)
	if err != nil {
		writeServiceError(w, r, err, "open media")
		return
	}
	defer body.Close()
	if info.ContentType != "" {
		contentType = info.ContentType
	}
	w.Header().Set("Content-Type", contentType)

	if h.cache.enabled() && info.Size <= maxCachedVariant {
		data, err := io.ReadAll(io.LimitReader(body, maxCachedVariant+1))
		if err != nil {
			observability.FromContext(ctx).WithError(err).WithField("key", key).Error("failed to read media")
			httputil.WriteInternalError(w)
			return
		}
		if len(data) <= maxCachedVariant {
			h.cache.add(cacheKey, &cachedVariant{data: data, contentType: contentType, modTime: info.LastModified})
			http.ServeContent(w, r, "", info.LastModified, bytes.NewReader(data))
			return
		}
		// the store under-reported the size; stream the rest
		h.stream(w, r, io.MultiReader(bytes.NewReader(data), body))
		return
	}

	if rs, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	h.stream(w, r, body)
}

func (h *PublicHandlers) stream(w http.ResponseWriter, r *http.Request, body io.Reader) {
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		observability.FromContext(r.Context()).WithError(err).Debug("media stream interrupted")
	}
}
