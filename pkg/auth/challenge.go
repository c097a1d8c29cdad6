package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ChallengeKind distinguishes what a pending challenge is for
type ChallengeKind string

const (
	KindMFALogin            ChallengeKind = "mfa_login"
	KindTOTPSetup           ChallengeKind = "totp_setup"
	KindPasskeyRegistration ChallengeKind = "passkey_registration"
	KindPasskeyLogin        ChallengeKind = "passkey_login"
	KindOIDCState           ChallengeKind = "oidc_state"
)

// Challenge is short-lived server side state for a multi-step flow. ID holds
// the hash of the token given to the client.
type Challenge struct {
	ID        string          `json:"id"`
	Kind      ChallengeKind   `json:"kind"`
	UserID    int64           `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Attempts  int             `json:"attempts"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ChallengeStore persists challenges until they expire or are consumed
type ChallengeStore interface {
	Put(ctx context.Context, c *Challenge) error
	// Get returns ErrChallengeNotFound or ErrChallengeExpired for unusable entries
	Get(ctx context.Context, id string) (*Challenge, error)
	Delete(ctx context.Context, id string) error
	// Consume removes and returns the challenge if it has the expected kind
	Consume(ctx context.Context, id string, kind ChallengeKind) (*Challenge, error)
	// RecordFailure increments the attempt counter and deletes the challenge
	// once max attempts are reached.
	RecordFailure(ctx context.Context, id string, max int) (exceeded bool, err error)
}

// MemoryChallengeStore keeps challenges in process memory with a periodic
// sweep of expired entries.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]*Challenge
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewMemoryChallengeStore starts a store sweeping every interval. Call Close
// to stop the sweeper.
func NewMemoryChallengeStore(interval time.Duration) *MemoryChallengeStore {
	s := &MemoryChallengeStore{
		entries: make(map[string]*Challenge),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go s.sweepLoop(interval)
	return s
}

func (s *MemoryChallengeStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logrus.WithField("removed", n).Debug("swept expired challenges")
			}
		case <-s.stop:
			return
		}
	}
}

// Sweep deletes expired entries and returns how many were removed
func (s *MemoryChallengeStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.entries {
		if !now.Before(c.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper
func (s *MemoryChallengeStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *MemoryChallengeStore) Put(ctx context.Context, c *Challenge) error {
	cp := *c
	s.mu.Lock()
	s.entries[c.ID] = &cp
	s.mu.Unlock()
	return nil
}

// lookup must be called with mu held
func (s *MemoryChallengeStore) lookup(id string) (*Challenge, error) {
	c, ok := s.entries[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if !s.now().Before(c.ExpiresAt) {
		delete(s.entries, id)
		return nil, ErrChallengeExpired
	}
	return c, nil
}

func (s *MemoryChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryChallengeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryChallengeStore) Consume(ctx context.Context, id string, kind ChallengeKind) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	delete(s.entries, id)
	return c, nil
}

func (s *MemoryChallengeStore) RecordFailure(ctx context.Context, id string, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	c.Attempts++
	if c.Attempts >= max {
		delete(s.entries, id)
		return true, nil
	}
	return false, nil
}

// RedisChallengeStore shares challenges between server instances
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisChallengeStore stores entries under prefix + "challenge:"
func NewRedisChallengeStore(client *redis.Client, prefix string) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, prefix: prefix + "challenge:", now: time.Now}
}

func (s *RedisChallengeStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisChallengeStore) Put(ctx context.Context, c *Challenge) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.key(c.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *RedisChallengeStore) decode(data []byte) (*Challenge, error) {
	var c Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return &c, nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	c, err := s.decode(data)
	if errors.Is(err, ErrChallengeExpired) {
		_ = s.client.Del(ctx, s.key(id)).Err()
	}
	return c, err
}

func (s *RedisChallengeStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *RedisChallengeStore) Consume(ctx context.Context, id string, kind ChallengeKind) (*Challenge, error) {
	data, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	c, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

func (s *RedisChallengeStore) RecordFailure(ctx context.Context, id string, max int) (bool, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := s.decode(data)
			if err != nil {
				return err
			}

			c.Attempts++
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if c.Attempts >= max {
					exceeded = true
					pipe.Del(ctx, key)
					return nil
				}
				updated, err := json.Marshal(c)
				if err != nil {
					return err
				}
				pipe.Set(ctx, key, updated, c.ExpiresAt.Sub(s.now()))
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, ErrChallengeNotFound
		case errors.Is(err, ErrChallengeExpired):
			_ = s.client.Del(ctx, key).Err()
			return false, err
		case err != nil:
			return false, fmt.Errorf("failed to record challenge failure: %w", err)
		}
		return exceeded, nil
	}
	return false, fmt.Errorf("failed to record challenge failure: too much contention")
}
