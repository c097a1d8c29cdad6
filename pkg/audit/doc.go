// Package audit records security and administrative events.
//
// Authentication outcomes (logins, failed logins, MFA, passkeys, password
// resets) and admin actions (users, invitations, albums, photos, branding)
// are written to the audit_logs table by DBLogger. A FileLogger can mirror
// every event to rotated JSON-lines files; MultiLogger combines the two.
//
// Handlers build events from the request context:
//
//	audit.Record(ctx, audit.EventAlbumDeleted, audit.TargetAlbum, strconv.FormatInt(id, 10), "album deleted")
//
// Admins read the log through Handlers, mounted under /api/admin:
//
//	GET /audit?event_type=auth.login_failed&since=2024-05-01T00:00:00Z
//	GET /audit/export?format=csv
//	GET /audit/stats
package audit
