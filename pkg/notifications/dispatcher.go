package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lightbox/pkg/async"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

// Directory resolves notification recipients
type Directory interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
	AdminIDs(ctx context.Context) ([]int64, error)
}

// Pusher sends web push messages
type Pusher interface {
	Send(ctx context.Context, sub *PushSubscription, message []byte) error
	PublicKey() string
}

// EmailSender sends notification emails
type EmailSender interface {
	SendNotification(ctx context.Context, to, subject, body, link string) error
}

const (
	fanOutTimeout = 2 * time.Minute
	retryBatch    = 100
)

// Dispatcher stores in-app notifications and fans events out to push and email
type Dispatcher struct {
	store   *Store
	dir     Directory
	push    Pusher
	mail    EmailSender
	policy  *RetryPolicy
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
	goFn    func(ctx context.Context, name string, fn async.Task)
}

// DispatcherOption customises a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithPusher enables the push channel
func WithPusher(p Pusher) DispatcherOption {
	return func(d *Dispatcher) { d.push = p }
}

// WithEmail enables the email channel
func WithEmail(m EmailSender) DispatcherOption {
	return func(d *Dispatcher) { d.mail = m }
}

// WithRetryPolicy replaces the default backoff
func WithRetryPolicy(p *RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithMetrics records delivery outcomes
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithSyncDelivery sends push and email before Notify returns
func WithSyncDelivery() DispatcherOption {
	return func(d *Dispatcher) {
		d.goFn = func(ctx context.Context, _ string, fn async.Task) { _ = fn(ctx) }
	}
}

// NewDispatcher creates a dispatcher. Channels without a sender are skipped.
func NewDispatcher(store *Store, dir Directory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		dir:    dir,
		policy: NewRetryPolicy(DefaultRetryConfig()),
		logger: observability.NewNopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
		goFn: func(ctx context.Context, name string, fn async.Task) {
			async.SafeGo(ctx, fanOutTimeout, name, fn)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store exposes the underlying store
func (d *Dispatcher) Store() *Store {
	return d.store
}

// Notify delivers ev to its recipients according to their preferences
func (d *Dispatcher) Notify(ctx context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}
	if ev.Title == "" {
		ev.Title = string(ev.Type)
	}

	recipients, err := d.recipients(ctx, ev)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload{Type: ev.Type, Title: ev.Title, Body: ev.Body, Link: ev.Link})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	var pending []*Delivery
	for _, user := range recipients {
		deliveries, err := d.prepare(ctx, user, ev, string(body))
		if err != nil {
			return err
		}
		pending = append(pending, deliveries...)
	}

	if len(pending) > 0 {
		d.goFn(ctx, "notification fan-out", func(ctx context.Context) error {
			for _, del := range pending {
				d.attempt(ctx, del)
			}
			return nil
		})
	}
	return nil
}

func (d *Dispatcher) recipients(ctx context.Context, ev Event) ([]*auth.User, error) {
	var ids []int64
	if ev.UserID != nil {
		ids = []int64{*ev.UserID}
	} else {
		admins, err := d.dir.AdminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve admins: %w", err)
		}
		ids = admins
	}

	users := make([]*auth.User, 0, len(ids))
	for _, id := range ids {
		u, err := d.dir.GetUser(ctx, id)
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user %d: %w", id, err)
		}
		if u.Active {
			users = append(users, u)
		}
	}
	return users, nil
}

type target struct {
	channel Channel
	addr    string
}

// prepare stores the in-app notification and the pending delivery rows for one user
func (d *Dispatcher) prepare(ctx context.Context, user *auth.User, ev Event, body string) ([]*Delivery, error) {
	pref, err := d.store.GetPreference(ctx, user.ID, ev.Type)
	if err != nil {
		return nil, err
	}
	now := d.now()

	if pref.InApp {
		n := &Notification{UserID: user.ID, Type: ev.Type, Title: ev.Title, Body: ev.Body, Link: ev.Link, CreatedAt: now}
		if err := d.store.CreateNotification(ctx, n); err != nil {
			return nil, err
		}
	}

	var targets []target
	if pref.Push && d.push != nil {
		subs, err := d.store.ListSubscriptions(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			targets = append(targets, target{ChannelPush, sub.Endpoint})
		}
	}
	if pref.Email && d.mail != nil && user.Email != "" {
		targets = append(targets, target{ChannelEmail, user.Email})
	}

	out := make([]*Delivery, 0, len(targets))
	for _, t := range targets {
		del := &Delivery{
			UserID:    user.ID,
			Channel:   t.channel,
			Target:    t.addr,
			EventType: ev.Type,
			Payload:   body,
			Status:    DeliveryPending,
			CreatedAt: now,
		}
		if err := d.store.CreateDelivery(ctx, del); err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, nil
}

// attempt sends one delivery and records the outcome
func (d *Dispatcher) attempt(ctx context.Context, del *Delivery) {
	del.Attempts++

	var err error
	switch del.Channel {
	case ChannelPush:
		err = d.sendPush(ctx, del)
	case ChannelEmail:
		err = d.sendEmail(ctx, del)
	default:
		err = permanent(fmt.Errorf("unknown channel %q", del.Channel))
	}
	d.metrics.RecordNotification(string(del.Channel), err)

	now := d.now()
	switch {
	case err == nil:
		del.Status = DeliveryDelivered
		del.DeliveredAt = &now
		del.NextAttemptAt = nil
		del.LastError = ""
	case d.policy.ShouldRetry(del.Attempts, err):
		next := now.Add(d.policy.NextRetryDelay(del.Attempts))
		del.Status = DeliveryRetrying
		del.NextAttemptAt = &next
		del.LastError = err.Error()
	default:
		del.Status = DeliveryFailed
		del.NextAttemptAt = nil
		del.LastError = err.Error()
	}

	log := d.logger.WithFields(map[string]interface{}{
		"delivery_id": del.ID,
		"channel":     del.Channel,
		"event_type":  del.EventType,
		"attempts":    del.Attempts,
	})
	if err != nil {
		log.WithError(err).Warn("notification delivery failed")
	}

	// record the outcome even if the fan-out context has expired
	if uerr := d.store.UpdateDelivery(context.WithoutCancel(ctx), del); uerr != nil {
		log.WithError(uerr).Error("failed to record delivery outcome")
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, del *Delivery) error {
	if d.push == nil {
		return permanent(ErrPushDisabled)
	}
	sub, err := d.store.GetSubscriptionByEndpoint(ctx, del.Target)
	if errors.Is(err, ErrNotFound) {
		return permanent(ErrSubscriptionGone)
	}
	if err != nil {
		return transient(err)
	}

	err = d.push.Send(ctx, sub, []byte(del.Payload))
	if errors.Is(err, ErrSubscriptionGone) {
		if derr := d.store.DeleteSubscriptionByEndpoint(context.WithoutCancel(ctx), sub.Endpoint); derr != nil {
			d.logger.WithError(derr).Warn("failed to remove expired push subscription")
		}
		return err
	}
	if err != nil {
		return err
	}
	if terr := d.store.TouchSubscription(ctx, sub.ID, d.now()); terr != nil {
		d.logger.WithError(terr).Debug("failed to touch push subscription")
	}
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, del *Delivery) error {
	if d.mail == nil {
		return permanent(errors.New("email is not configured"))
	}
	var p payload
	if err := json.Unmarshal([]byte(del.Payload), &p); err != nil {
		return permanent(fmt.Errorf("corrupt payload: %w", err))
	}
	return d.mail.SendNotification(ctx, del.Target, p.Title, p.Body, p.Link)
}

// RetryDue resends deliveries whose backoff has elapsed and returns how many
// were attempted
func (d *Dispatcher) RetryDue(ctx context.Context) (int, error) {
	due, err := d.store.DueDeliveries(ctx, d.now(), retryBatch)
	if err != nil {
		return 0, err
	}
	for _, del := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.attempt(ctx, del)
	}
	return len(due), nil
}

// Purge removes read notifications and finished deliveries created before before
func (d *Dispatcher) Purge(ctx context.Context, before time.Time) (int64, error) {
	notes, err := d.store.PurgeNotifications(ctx, before)
	if err != nil {
		return 0, err
	}
	dels, err := d.store.PurgeDeliveries(ctx, before)
	if err != nil {
		return notes, err
	}
	return notes + dels, nil
}

// List returns a page of the user's notifications
func (d *Dispatcher) List(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return d.store.ListNotifications(ctx, userID, unreadOnly, limit, offset)
}

// UnreadCount returns how many notifications the user has not read
func (d *Dispatcher) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return d.store.UnreadCount(ctx, userID)
}

func (d *Dispatcher) MarkRead(ctx context.Context, userID, id int64) error {
	return d.store.MarkRead(ctx, userID, id, d.now())
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return d.store.MarkAllRead(ctx, userID, d.now())
}

func (d *Dispatcher) Delete(ctx context.Context, userID, id int64) error {
	return d.store.DeleteNotification(ctx, userID, id)
}

// Deliveries returns recent push and email sends for a user
func (d *Dispatcher) Deliveries(ctx context.Context, userID int64, limit int) ([]*Delivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return d.store.ListDeliveries(ctx, userID, limit)
}

// VAPIDPublicKey returns the key browsers subscribe with
func (d *Dispatcher) VAPIDPublicKey() (string, error) {
	if d.push == nil {
		return "", ErrPushDisabled
	}
	return d.push.PublicKey(), nil
}

// Subscribe registers a browser for push
func (d *Dispatcher) Subscribe(ctx context.Context, userID int64, sub *PushSubscription) error {
	if d.push == nil {
		return ErrPushDisabled
	}
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	sub.UserID = userID
	sub.CreatedAt = d.now()
	return d.store.UpsertSubscription(ctx, sub)
}

// Unsubscribe removes a browser's subscription
func (d *Dispatcher) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	return d.store.DeleteSubscription(ctx, userID, endpoint)
}

// Subscriptions lists a user's registered browsers
func (d *Dispatcher) Subscriptions(ctx context.Context, userID int64) ([]*PushSubscription, error) {
	return d.store.ListSubscriptions(ctx, userID)
}

// Preferences returns the user's channel choices for every event type
func (d *Dispatcher) Preferences(ctx context.Context, userID int64) ([]Preference, error) {
	return d.store.GetPreferences(ctx, userID)
}

// UpdatePreferences saves prefs and returns the full set
func (d *Dispatcher) UpdatePreferences(ctx context.Context, userID int64, prefs []Preference) ([]Preference, error) {
	for _, p := range prefs {
		if !p.EventType.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, p.EventType)
		}
	}
	if err := d.store.SavePreferences(ctx, userID, prefs); err != nil {
		return nil, err
	}
	return d.store.GetPreferences(ctx, userID)
}

// SendTest sends a system.test notification to the user
func (d *Dispatcher) SendTest(ctx context.Context, userID int64) error {
	return d.Notify(ctx, Event{
		Type:   EventSystemTest,
		UserID: &userID,
		Title:  "Test notification",
		Body:   "Notifications are working.",
		Link:   "/admin/notifications",
	})
}
