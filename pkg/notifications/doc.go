// Package notifications stores in-app notifications and delivers them over
// web push and email.
//
// A Dispatcher resolves the recipients of an Event (one user, or every active
// admin), writes the in-app notification when the user's preference allows
// it, and records one delivery row per push subscription and email address.
// Sends run in the background; transient failures are retried by the
// RetryWorker with exponential backoff until RetryConfig.MaxAttempts.
//
// Push messages are encrypted and VAPID-signed with webpush-go. A push service
// answering 404 or 410 means the browser dropped the subscription, which is
// then deleted.
package notifications
