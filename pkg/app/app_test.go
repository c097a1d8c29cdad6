package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/config"
	"github.com/platinummonkey/lightbox/pkg/middleware"
	"github.com/platinummonkey/lightbox/pkg/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.URL = "file:" + filepath.Join(dir, "lightbox.db") + "?_foreign_keys=on"
	cfg.Storage.FilesystemRoot = filepath.Join(dir, "media")
	cfg.Auth.BcryptCost = 10
	cfg.Audit.FileDir = filepath.Join(dir, "audit")
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_SQLiteAndFilesystem(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, WithMetrics(observability.NewMetrics(nil)))

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Cache)
	assert.IsType(t, &auth.MemoryChallengeStore{}, a.Challenges)
	assert.IsType(t, &audit.MultiLogger{}, a.Audit)
	assert.True(t, a.Auth.PasskeysEnabled())
	assert.False(t, a.Auth.OIDCEnabled())
	assert.Nil(t, a.Mailer())

	ctx := context.Background()
	require.NoError(t, a.Blobs.HealthCheck(ctx))
	status := a.HealthChecker("test").Check(ctx)
	assert.Equal(t, observability.StatusHealthy, status.Status)

	u, err := a.Auth.CreateUser(ctx, auth.NewUser{
		Username: "root",
		Email:    "root@example.com",
		Role:     auth.RoleAdmin,
		Password: "a-long-enough-password",
	})
	require.NoError(t, err)
	ids, err := a.Auth.AdminIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{u.ID}, ids)

	assert.IsType(t, &middleware.MemoryLimiter{}, a.LoginLimiter(ctx))
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Auth.ChallengeStore = "redis"

	a := newTestApp(t, cfg)
	require.NotNil(t, a.Redis)
	assert.NotNil(t, a.Cache)
	assert.IsType(t, &auth.RedisChallengeStore{}, a.Challenges)
	assert.IsType(t, &middleware.RedisLimiter{}, a.LoginLimiter(context.Background()))
}

func TestNew_RedisChallengeStoreNeedsRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.ChallengeStore = "redis"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNew_BadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewPipelineAndUploader(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.Workers = 1
	a := newTestApp(t, cfg)

	pipeline := a.NewPipeline(context.Background())
	defer pipeline.Shutdown(time.Second)
	assert.Zero(t, pipeline.Pending())
	assert.NotNil(t, a.NewUploader(pipeline))
}

type fakeRequeuer struct {
	olderThan time.Duration
	err       error
}

func (f *fakeRequeuer) Requeue(_ context.Context, olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	return 0, f.err
}

func TestMaintenance_Purge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.RetentionDays = 30
	a := newTestApp(t, cfg)
	ctx := context.Background()

	old := &audit.Event{
		EventType: audit.EventAuthLogin,
		Status:    audit.StatusSuccess,
		CreatedAt: time.Now().UTC().AddDate(0, 0, -45),
	}
	recent := &audit.Event{EventType: audit.EventAuthLogin, Status: audit.StatusSuccess}
	require.NoError(t, a.AuditDB.Log(ctx, old))
	require.NoError(t, a.AuditDB.Log(ctx, recent))

	m := a.Maintenance(nil)
	require.NoError(t, m.Purge(ctx))

	events, total, err := a.AuditDB.List(ctx, audit.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, recent.ID, events[0].ID)
}

func TestMaintenance_RunOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.StaleAfter = 15 * time.Minute
	a := newTestApp(t, cfg)

	requeuer := &fakeRequeuer{}
	require.NoError(t, a.Maintenance(requeuer).RunOnce(context.Background()))
	assert.Equal(t, 15*time.Minute, requeuer.olderThan)

	requeuer.err = errors.New("queue closed")
	err := a.Maintenance(requeuer).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requeue")
}

func TestMaintenance_Schedule(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	c := cron.New()
	require.NoError(t, a.Maintenance(&fakeRequeuer{}).Schedule(context.Background(), c))
	assert.Len(t, c.Entries(), 3)

	cfg.Maintenance.RetrySchedule = "not a schedule"
	require.Error(t, a.Maintenance(nil).Schedule(context.Background(), cron.New()))
}
