package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lightbox/pkg/database"
)

// Store persists notifications, subscriptions, preferences and deliveries
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateNotification inserts n and sets its ID
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, title, body, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		n.UserID, n.Type, n.Title, n.Body, n.Link, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var readAt sql.NullTime
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Link, &readAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.ReadAt = database.TimePtr(readAt)
	return n, nil
}

// ListNotifications returns a user's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*Notification, error) {
	query := `SELECT id, user_id, type, title, body, link, read_at, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount counts a user's unread notifications
func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification read. Marking it again is not an error.
func (s *Store) MarkRead(ctx context.Context, userID, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE user_id = $2 AND id = $3`,
		now, userID, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return expectOne(result)
}

// MarkAllRead marks every unread notification of a user and returns how many
func (s *Store) MarkAllRead(ctx context.Context, userID int64, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = $1 WHERE user_id = $2 AND read_at IS NULL`, now, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// DeleteNotification removes one of a user's notifications
func (s *Store) DeleteNotification(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return expectOne(result)
}

// PurgeNotifications removes read notifications older than before
func (s *Store) PurgeNotifications(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return result.RowsAffected()
}

// UpsertSubscription stores sub. An endpoint re-subscribed by another
// account moves to that account.
func (s *Store) UpsertSubscription(ctx context.Context, sub *PushSubscription) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent
		RETURNING id`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, sub.CreatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, user_agent, created_at, last_used_at`

func scanSubscription(row rowScanner) (*PushSubscription, error) {
	sub := &PushSubscription{}
	var lastUsed sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.UserAgent,
		&sub.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	sub.LastUsedAt = database.TimePtr(lastUsed)
	return sub, nil
}

// ListSubscriptions returns a user's push subscriptions
func (s *Store) ListSubscriptions(ctx context.Context, userID int64) ([]*PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	out := []*PushSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetSubscriptionByEndpoint loads a subscription by its endpoint URL
func (s *Store) GetSubscriptionByEndpoint(ctx context.Context, endpoint string) (*PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE endpoint = $1`, endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes a user's subscription for endpoint
func (s *Store) DeleteSubscription(ctx context.Context, userID int64, endpoint string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return expectOne(result)
}

// DeleteSubscriptionByEndpoint removes a subscription the push service rejected
func (s *Store) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// TouchSubscription records a successful push
func (s *Store) TouchSubscription(ctx context.Context, id int64, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET last_used_at = $1 WHERE id = $2`, now, id); err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	return nil
}

// GetPreferences returns a preference for every event type, filling in
// defaults for those the user never saved
func (s *Store) GetPreferences(ctx context.Context, userID int64) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, push, email, in_app FROM notification_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	defer rows.Close()

	saved := map[EventType]Preference{}
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.EventType, &p.Push, &p.Email, &p.InApp); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		saved[p.EventType] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Preference, 0, len(EventTypes))
	for _, t := range EventTypes {
		if p, ok := saved[t]; ok {
			out = append(out, p)
		} else {
			out = append(out, DefaultPreference(t))
		}
	}
	return out, nil
}

// GetPreference returns the user's preference for one event type
func (s *Store) GetPreference(ctx context.Context, userID int64, t EventType) (Preference, error) {
	p := Preference{EventType: t}
	err := s.db.QueryRowContext(ctx,
		`SELECT push, email, in_app FROM notification_preferences WHERE user_id = $1 AND event_type = $2`,
		userID, t).Scan(&p.Push, &p.Email, &p.InApp)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreference(t), nil
	}
	if err != nil {
		return p, fmt.Errorf("failed to get preference: %w", err)
	}
	return p, nil
}

// SavePreferences upserts prefs in one transaction
func (s *Store) SavePreferences(ctx context.Context, userID int64, prefs []Preference) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		for _, p := range prefs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO notification_preferences (user_id, event_type, push, email, in_app)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id, event_type) DO UPDATE SET
					push = excluded.push, email = excluded.email, in_app = excluded.in_app`,
				userID, p.EventType, p.Push, p.Email, p.InApp); err != nil {
				return fmt.Errorf("failed to save preference %s: %w", p.EventType, err)
			}
		}
		return nil
	})
}

// CreateDelivery inserts d and sets its ID
func (s *Store) CreateDelivery(ctx context.Context, d *Delivery) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_deliveries (user_id, channel, target, event_type, payload, status, attempts,
			last_error, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		d.UserID, d.Channel, d.Target, d.EventType, d.Payload, d.Status, d.Attempts, d.LastError,
		database.NullTime(d.NextAttemptAt), d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// UpdateDelivery writes the outcome of an attempt
func (s *Store) UpdateDelivery(ctx context.Context, d *Delivery) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_deliveries
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, delivered_at = $5
		WHERE id = $6`,
		d.Status, d.Attempts, d.LastError, database.NullTime(d.NextAttemptAt), database.NullTime(d.DeliveredAt), d.ID)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return expectOne(result)
}

const deliveryColumns = `id, user_id, channel, target, event_type, payload, status, attempts, last_error,
		next_attempt_at, created_at, delivered_at`

func scanDelivery(row rowScanner) (*Delivery, error) {
	d := &Delivery{}
	var next, delivered sql.NullTime
	if err := row.Scan(&d.ID, &d.UserID, &d.Channel, &d.Target, &d.EventType, &d.Payload, &d.Status,
		&d.Attempts, &d.LastError, &next, &d.CreatedAt, &delivered); err != nil {
		return nil, err
	}
	d.NextAttemptAt = database.TimePtr(next)
	d.DeliveredAt = database.TimePtr(delivered)
	return d, nil
}

func (s *Store) listDeliveries(ctx context.Context, query string, args ...interface{}) ([]*Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	out := []*Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DueDeliveries returns retrying deliveries whose next attempt is due
func (s *Store) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*Delivery, error) {
	return s.listDeliveries(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries
		WHERE status = $1 AND next_attempt_at <= $2 ORDER BY next_attempt_at ASC LIMIT $3`,
		DeliveryRetrying, now, limit)
}

// ListDeliveries returns the most recent deliveries for a user
func (s *Store) ListDeliveries(ctx context.Context, userID int64, limit int) ([]*Delivery, error) {
	return s.listDeliveries(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
}

// PurgeDeliveries removes finished deliveries created before cutoff
func (s *Store) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_deliveries WHERE status IN ($1, $2) AND created_at < $3`,
		DeliveryDelivered, DeliveryFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	return result.RowsAffected()
}
