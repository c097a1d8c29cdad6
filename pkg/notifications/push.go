package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// PushConfig holds the VAPID identity used to sign pushes
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
}

// PushSender delivers web push messages
type PushSender struct {
	cfg    PushConfig
	client *http.Client
}

// NewPushSender creates a sender. Both VAPID keys are required.
func NewPushSender(cfg PushConfig) (*PushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, ErrPushDisabled
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	return &PushSender{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

// PublicKey is handed to browsers as the applicationServerKey
func (p *PushSender) PublicKey() string {
	return p.cfg.VAPIDPublicKey
}

// GenerateVAPIDKeys creates a new key pair for PushConfig
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

// ValidateSubscription checks the fields a browser sends when subscribing
func ValidateSubscription(sub *PushSubscription) error {
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute URL", ErrInvalidSubscription)
	}
	if sub.P256dh == "" || sub.Auth == "" {
		return fmt.Errorf("%w: keys are required", ErrInvalidSubscription)
	}
	return nil
}

// Send encrypts message for sub and posts it to the push service. A 404 or
// 410 means the browser unsubscribed and yields ErrSubscriptionGone.
func (p *PushSender) Send(ctx context.Context, sub *PushSubscription, message []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.cfg.Subject,
		TTL:             p.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		return transient(fmt.Errorf("push request failed: %w", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return permanent(ErrSubscriptionGone)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transient(fmt.Errorf("push service returned %d: %s", resp.StatusCode, body))
	default:
		return permanent(fmt.Errorf("push service returned %d: %s", resp.StatusCode, body))
	}
}
