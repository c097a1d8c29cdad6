// Package cli implements lightbox-admin, the operator tool for tasks that
// cannot go through the web UI.
//
// # Commands
//
// create-admin: bootstrap the first administrator
//
//	lightbox-admin create-admin --username alice --email alice@example.com
//
// The password comes from --password, then LIGHTBOX_ADMIN_PASSWORD, and is
// generated and printed once when neither is set.
//
// reset-password: set a new password and revoke every session
//
//	lightbox-admin reset-password --user alice
//
// disable-mfa: recover an account whose authenticator and recovery codes are lost
//
//	lightbox-admin disable-mfa --user alice@example.com
//
// generate-vapid-keys: print a key pair for LIGHTBOX_VAPID_PUBLIC_KEY and
// LIGHTBOX_VAPID_PRIVATE_KEY
//
//	lightbox-admin generate-vapid-keys --json
//
// generate-locales: write every supported locale from web/locales/en.json,
// keeping existing translations
//
//	lightbox-admin generate-locales --dir ./web/locales
//
// Commands that touch accounts read the same LIGHTBOX_* configuration as the
// server and record an audit event tagged source=cli.
package cli
