package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/lightbox/pkg/database"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	kind  string
	to    string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendInvitation(ctx context.Context, inv *Invitation, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind: "invitation", to: inv.Email, token: token})
	return nil
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, u *User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind: "reset", to: u.Email, token: token})
	return nil
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	svc        *Service
	store      *Store
	challenges *MemoryChallengeStore
	clock      *testClock
	mailer     *fakeMailer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver: "sqlite3",
		URL:    "file::memory:?_foreign_keys=on",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	challenges := NewMemoryChallengeStore(time.Hour)
	challenges.now = clock.Now
	t.Cleanup(func() { challenges.Close() })

	mailer := &fakeMailer{}
	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost

	store := NewStore(db.DB)
	opts = append([]Option{WithClock(clock.Now), WithMailer(mailer)}, opts...)
	svc := NewService(store, challenges, cfg, opts...)

	return &testEnv{svc: svc, store: store, challenges: challenges, clock: clock, mailer: mailer}
}

const testPassword = "correct-horse-battery"

func (e *testEnv) createUser(t *testing.T, username string, role Role) *User {
	t.Helper()
	u, err := e.svc.CreateUser(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) login(t *testing.T, username string) *IssuedSession {
	t.Helper()
	res, err := e.svc.Login(context.Background(), username, testPassword, ClientMeta{IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return res.Session
}
