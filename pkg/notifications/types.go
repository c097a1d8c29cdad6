package notifications

import (
	"errors"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventPhotoUploaded   EventType = "photo.uploaded"
	EventPhotoProcessed  EventType = "photo.processed"
	EventPhotoFailed     EventType = "photo.failed"
	EventUserInvited     EventType = "user.invited"
	EventUserJoined      EventType = "user.joined"
	EventNewLogin        EventType = "auth.new_login"
	EventPasswordChanged EventType = "auth.password_changed"
	EventSystemTest      EventType = "system.test"
)

// EventTypes lists every event a user can set preferences for
var EventTypes = []EventType{
	EventPhotoUploaded,
	EventPhotoProcessed,
	EventPhotoFailed,
	EventUserInvited,
	EventUserJoined,
	EventNewLogin,
	EventPasswordChanged,
	EventSystemTest,
}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is something worth telling users about. A nil UserID addresses every
// active admin.
type Event struct {
	Type   EventType
	UserID *int64
	Title  string
	Body   string
	Link   string
}

// Notification is an in-app notification
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Type      EventType  `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PushSubscription is a browser's web push endpoint
type PushSubscription struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Endpoint   string     `json:"endpoint"`
	P256dh     string     `json:"p256dh"`
	Auth       string     `json:"auth"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Preference selects the channels for one event type
type Preference struct {
	EventType EventType `json:"event_type"`
	Push      bool      `json:"push"`
	Email     bool      `json:"email"`
	InApp     bool      `json:"in_app"`
}

// DefaultPreference applies until a user saves their own. Security events
// are also emailed.
func DefaultPreference(t EventType) Preference {
	p := Preference{EventType: t, Push: true, InApp: true}
	switch t {
	case EventNewLogin, EventPasswordChanged:
		p.Email = true
	}
	return p
}

// Channel is an out-of-app delivery route
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// DeliveryStatus tracks a push or email send
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is one push or email send and its outcome
type Delivery struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	Channel       Channel        `json:"channel"`
	Target        string         `json:"target"`
	EventType     EventType      `json:"event_type"`
	Payload       string         `json:"-"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}

// payload is what push receivers and the email template get
type payload struct {
	Type  EventType `json:"type"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Link  string    `json:"link,omitempty"`
}

var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrInvalidSubscription = errors.New("invalid push subscription")
	ErrPushDisabled        = errors.New("web push is not configured")
	ErrSubscriptionGone    = errors.New("push subscription expired")
)

// DeliveryError marks whether a failed send is worth retrying
type DeliveryError struct {
	Transient bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func transient(err error) error {
	return &DeliveryError{Transient: true, Err: err}
}

func permanent(err error) error {
	return &DeliveryError{Transient: false, Err: err}
}
