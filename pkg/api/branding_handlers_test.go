package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/httputil"
)

func TestBrandingSettings(t *testing.T) {
	env := newAPIEnv(t)
	token := adminToken(t, env)

	w := env.request(t, "GET", "/api/branding", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var public branding.PublicSettings
	decodeBody(t, w, &public)
	assert.Equal(t, "Lightbox", public.SiteTitle)
	assert.Empty(t, public.LogoURL)

	w = env.request(t, "PUT", "/api/admin/branding", map[string]string{
		"site_title":    "Moments",
		"primary_color": "#112233",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var settings branding.Settings
	decodeBody(t, w, &settings)
	assert.Equal(t, "Moments", settings.SiteTitle)
	assert.Equal(t, "#112233", settings.PrimaryColor)
	require.NotNil(t, settings.UpdatedBy)

	w = env.request(t, "PUT", "/api/admin/branding", map[string]string{"accent_color": "red"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "invalid_color", resp.Code)

	w = env.request(t, "GET", "/api/admin/branding", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &settings)
	assert.Equal(t, "Moments", settings.SiteTitle)

	assert.Len(t, env.auditEvents(t, audit.EventBrandingUpdated), 1)
}

func TestBrandingRequiresAdmin(t *testing.T) {
	env := newAPIEnv(t)
	env.createUser(t, "eddie", auth.RoleEditor)
	token := env.login(t, "eddie")

	w := env.request(t, "PUT", "/api/admin/branding", map[string]string{"site_title": "Mine"}, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBrandingLogoUpload(t *testing.T) {
	env := newAPIEnv(t)
	token := adminToken(t, env)

	w := env.request(t, "GET", "/api/branding/assets/logo", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.serve(multipartRequest(t, "PUT", "/api/admin/branding/logo", token,
		formFile{field: "file", filename: "logo.png", contentType: "image/png", data: pngBytes(t, 64, 32)},
	))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(t, "GET", "/api/branding", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var public branding.PublicSettings
	decodeBody(t, w, &public)
	assert.Contains(t, public.LogoURL, brandingAssetBase+"/logo?v=")
	assert.Empty(t, public.FaviconURL)

	w = env.request(t, "GET", "/api/branding/assets/logo", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "public")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = env.request(t, "DELETE", "/api/admin/branding/logo", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.request(t, "GET", "/api/branding/assets/logo", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, env.auditEvents(t, audit.EventBrandingAssetChanged), 2)
}

func TestBrandingFaviconRawBody(t *testing.T) {
	env := newAPIEnv(t)
	token := adminToken(t, env)

	r := httptest.NewRequest("PUT", "/api/admin/branding/favicon", bytes.NewReader(pngBytes(t, 48, 48)))
	r.Header.Set("Content-Type", "image/png")
	r.Header.Set("Authorization", "Bearer "+token)
	w := env.serve(r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(t, "HEAD", "/api/branding/assets/favicon", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestBrandingRejectsBadAssets(t *testing.T) {
	env := newAPIEnv(t)
	token := adminToken(t, env)

	r := httptest.NewRequest("PUT", "/api/admin/branding/logo", bytes.NewReader([]byte("not an image")))
	r.Header.Set("Authorization", "Bearer "+token)
	w := env.serve(r)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp httputil.ErrorResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "invalid_image", resp.Code)

	w = env.request(t, "GET", "/api/branding/assets/banner", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, "DELETE", "/api/admin/branding/banner", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
