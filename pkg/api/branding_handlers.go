package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/httputil"
)

// brandingAssetBase is where the public asset routes are mounted
const brandingAssetBase = "/api/branding/assets"

// maxBrandingUpload bounds logo and favicon uploads
const maxBrandingUpload = 5 << 20

// BrandingHandlers serves site branding
type BrandingHandlers struct {
	branding *branding.Service
}

// NewBrandingHandlers creates branding handlers
func NewBrandingHandlers(svc *branding.Service) *BrandingHandlers {
	return &BrandingHandlers{branding: svc}
}

// RegisterRoutes registers the public branding routes
func (h *BrandingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/branding", h.getPublic).Methods("GET")
	router.HandleFunc("/branding/assets/{asset}", h.getAsset).Methods("GET", "HEAD")
}

// RegisterAdminRoutes registers branding management on the admin router
func (h *BrandingHandlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/branding", h.getSettings).Methods("GET")
	router.HandleFunc("/branding", h.updateSettings).Methods("PUT")
	router.HandleFunc("/branding/{asset}", h.uploadAsset).Methods("PUT", "POST")
	router.HandleFunc("/branding/{asset}", h.clearAsset).Methods("DELETE")
}

// getPublic handles GET /api/branding
func (h *BrandingHandlers) getPublic(w http.ResponseWriter, r *http.Request) {
	settings, err := h.branding.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load branding")
		return
	}
	httputil.WriteSuccess(w, settings.Public(brandingAssetBase))
}

// getAsset handles GET /api/branding/assets/{asset}
func (h *BrandingHandlers) getAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.parseAsset(w, r)
	if !ok {
		return
	}
	body, info, err := h.branding.OpenAsset(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, err, "load branding asset")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	// URLs carry a version parameter, so a changed asset gets a new URL
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, body)
}

// getSettings handles GET /api/admin/branding
func (h *BrandingHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.branding.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load branding")
		return
	}
	httputil.WriteSuccess(w, settings)
}

// updateSettings handles PUT /api/admin/branding
func (h *BrandingHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var upd branding.Update
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	settings, err := h.branding.Update(r.Context(), actorID(r), upd)
	if err != nil {
		writeServiceError(w, r, err, "update branding")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventBrandingUpdated, audit.StatusSuccess).
		Target(audit.TargetBranding, "settings"))
	httputil.WriteSuccess(w, settings)
}

// uploadAsset handles PUT /api/admin/branding/{asset}. The image is taken
// from the "file" form field, or from the raw body for non-form requests.
func (h *BrandingHandlers) uploadAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.parseAsset(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBrandingUpload)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		f, _, err := r.FormFile("file")
		if err != nil {
			httputil.WriteBadRequest(w, "expected an image in the file field")
			return
		}
		defer f.Close()
		body = f
	}

	settings, err := h.branding.SetAsset(r.Context(), actorID(r), asset, body)
	if err != nil {
		if m, ok := lookupError(err); ok {
			httputil.WriteErrorCode(w, m.status, m.code, err.Error())
			return
		}
		// decode failures come back unwrapped from the image codecs
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventBrandingAssetChanged, audit.StatusSuccess).
		Target(audit.TargetBranding, string(asset)).
		With("action", "upload"))
	httputil.WriteSuccess(w, settings)
}

// clearAsset handles DELETE /api/admin/branding/{asset}
func (h *BrandingHandlers) clearAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.parseAsset(w, r)
	if !ok {
		return
	}
	settings, err := h.branding.ClearAsset(r.Context(), actorID(r), asset)
	if err != nil {
		writeServiceError(w, r, err, "clear branding asset")
		return
	}
	recordAudit(r, audit.NewEvent(r.Context(), audit.EventBrandingAssetChanged, audit.StatusSuccess).
		Target(audit.TargetBranding, string(asset)).
		With("action", "clear"))
	httputil.WriteSuccess(w, settings)
}

func (h *BrandingHandlers) parseAsset(w http.ResponseWriter, r *http.Request) (branding.Asset, bool) {
	name, ok := httputil.PathStringOrError(w, r, "asset")
	if !ok {
		return "", false
	}
	asset, err := branding.ParseAsset(name)
	if err != nil {
		httputil.WriteNotFound(w, err.Error())
		return "", false
	}
	return asset, true
}
