// Package api provides the HTTP JSON API behind the Lightbox admin SPA and
// the public gallery.
//
// # Overview
//
// Every route lives under /api and is served by a gorilla/mux router wrapped
// in the shared middleware chain: request ids, panic recovery, access logs,
// security headers, CORS, session resolution and the audit recorder.
// Handlers are grouped by domain and each group registers its own routes:
//
//   - AuthHandlers: sign-in, MFA, passkeys, OIDC, sessions, invitations
//   - UserHandlers: administrator user and invitation management
//   - GalleryHandlers: albums, uploads and photo editing
//   - NotificationHandlers: inbox, preferences and web push
//   - BrandingHandlers: site settings, logo and favicon
//   - PublicHandlers: visitor views and media delivery
//
// # Endpoints
//
// Authentication:
//
//	POST   /api/auth/login                      - Password sign-in, may return an MFA challenge
//	POST   /api/auth/mfa/verify                 - Complete an MFA challenge
//	POST   /api/auth/logout                     - Revoke the current session
//	GET    /api/auth/me                         - Current user
//	GET    /api/auth/sessions                   - List own sessions
//	GET    /api/auth/invitations/{token}        - Inspect an invitation
//	POST   /api/auth/invitations/{token}/accept - Create an account from an invitation
//
// Gallery (editor or admin for writes):
//
//	GET    /api/albums                          - List albums
//	POST   /api/albums                          - Create album
//	POST   /api/albums/{id}/photos              - Multipart upload
//	POST   /api/photos/{id}/reprocess           - Queue a photo again
//
// Public:
//
//	GET    /api/public/albums                   - Public albums
//	GET    /api/public/albums/{slug}            - Album with ready photos
//	GET    /api/public/settings                 - Branding and negotiated locale
//	GET    /api/media/{photoID}/{variant}       - Variant or original bytes
//
// Administration lives under /api/admin and requires the admin role.
//
// # Errors
//
// Service errors are translated by writeServiceError into a status code and
// a stable machine-readable code, for example:
//
//	{"error": "slug already in use", "code": "slug_taken"}
//
// Unmapped errors are logged with the request id and answered with a bare 500.
//
// # Usage Example
//
//	server, err := api.NewServer(api.Dependencies{
//		Auth:          authService,
//		Gallery:       gallerySvc,
//		Branding:      brandingSvc,
//		Notifications: dispatcher,
//		Blobs:         blobs,
//	}, api.Config{PublicURL: "https://photos.example.com"})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", server)
package api
