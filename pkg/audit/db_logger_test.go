package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/database"
)

func newSQLiteLogger(t *testing.T) *DBLogger {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Driver: "sqlite3", URL: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	l, err := NewDBLogger(db.DB)
	require.NoError(t, err)
	return l
}

func int64p(v int64) *int64 { return &v }

func seedEvents(t *testing.T, l *DBLogger, base time.Time) {
	t.Helper()
	ctx := context.Background()
	events := []*Event{
		{EventType: EventAuthLogin, Status: StatusSuccess, ActorID: int64p(1), ActorUsername: "alice", IPAddress: "10.0.0.1", CreatedAt: base},
		{EventType: EventAuthLoginFailed, Status: StatusFailure, ActorUsername: "mallory", IPAddress: "10.0.0.9",
			Message: "invalid credentials", CreatedAt: base.Add(time.Minute)},
		{EventType: EventAuthLoginFailed, Status: StatusFailure, ActorUsername: "mallory", IPAddress: "10.0.0.9",
			Message: "invalid credentials", CreatedAt: base.Add(2 * time.Minute)},
		{EventType: EventAlbumCreated, Status: StatusSuccess, ActorID: int64p(1), ActorUsername: "alice",
			TargetType: TargetAlbum, TargetID: "4", Message: "Created album Summer",
			Metadata: map[string]interface{}{"slug": "summer"}, CreatedAt: base.Add(3 * time.Minute)},
		{EventType: EventPhotoDeleted, Status: StatusSuccess, ActorID: int64p(2), ActorUsername: "bob",
			TargetType: TargetPhoto, TargetID: "12", IPAddress: "10.0.0.2", CreatedAt: base.Add(4 * time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, l.Log(ctx, e))
		assert.NotZero(t, e.ID)
	}
}

func TestDBLogger_ListFilters(t *testing.T) {
	l := newSQLiteLogger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	seedEvents(t, l, base)

	tests := []struct {
		name   string
		filter Filter
		want   []EventType
		total  int64
	}{
		{
			name:   "everything newest first",
			filter: Filter{},
			want:   []EventType{EventPhotoDeleted, EventAlbumCreated, EventAuthLoginFailed, EventAuthLoginFailed, EventAuthLogin},
			total:  5,
		},
		{
			name:   "by type",
			filter: Filter{EventTypes: []EventType{EventAuthLogin, EventPhotoDeleted}},
			want:   []EventType{EventPhotoDeleted, EventAuthLogin},
			total:  2,
		},
		{
			name:   "by actor",
			filter: Filter{ActorID: int64p(1)},
			want:   []EventType{EventAlbumCreated, EventAuthLogin},
			total:  2,
		},
		{
			name:   "by status and ip",
			filter: Filter{Status: StatusFailure, IPAddress: "10.0.0.9"},
			want:   []EventType{EventAuthLoginFailed, EventAuthLoginFailed},
			total:  2,
		},
		{
			name:   "time window",
			filter: Filter{Since: timePtr(base.Add(time.Minute)), Until: timePtr(base.Add(3 * time.Minute))},
			want:   []EventType{EventAuthLoginFailed, EventAuthLoginFailed},
			total:  2,
		},
		{
			name:   "target",
			filter: Filter{TargetType: TargetPhoto, TargetID: "12"},
			want:   []EventType{EventPhotoDeleted},
			total:  1,
		},
		{
			name:   "search is case insensitive",
			filter: Filter{Search: "SUMMER"},
			want:   []EventType{EventAlbumCreated},
			total:  1,
		},
		{
			name:   "paged",
			filter: Filter{Limit: 2, Offset: 1},
			want:   []EventType{EventAlbumCreated, EventAuthLoginFailed},
			total:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, total, err := l.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			got := make([]EventType, len(events))
			for i, e := range events {
				got[i] = e.EventType
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestDBLogger_GetRoundTrip(t *testing.T) {
	l := newSQLiteLogger(t)
	ctx := context.Background()
	seedEvents(t, l, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	events, _, err := l.List(ctx, Filter{EventTypes: []EventType{EventAlbumCreated}})
	require.NoError(t, err)
	require.Len(t, events, 1)

	got, err := l.Get(ctx, events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "summer", got.Metadata["slug"])
	assert.Equal(t, int64(1), *got.ActorID)
	assert.Equal(t, TargetAlbum, got.TargetType)

	_, err = l.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDBLogger_StatsAndCleanup(t *testing.T) {
	l := newSQLiteLogger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	seedEvents(t, l, base)

	stats, err := l.Stats(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.FailedLogins)
	assert.Equal(t, int64(2), stats.ByStatus[StatusFailure])
	assert.Equal(t, int64(2), stats.UniqueActors)
	assert.Equal(t, int64(3), stats.UniqueIPs)

	removed, err := l.Cleanup(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, total, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestDBLogger_LogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnError(errors.New("read-only transaction"))
	err = l.Log(context.Background(), &Event{EventType: EventAuthLogout, Status: StatusSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit log")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_ListQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	l, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE event_type IN \(\$1, \$2\) AND status = \$3`).
		WithArgs(EventAuthLogin, EventAuthLogout, StatusSuccess).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM audit_logs WHERE event_type IN \(\$1, \$2\) AND status = \$3 ORDER BY created_at DESC, id DESC LIMIT \$4 OFFSET \$5`).
		WithArgs(EventAuthLogin, EventAuthLogout, StatusSuccess, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	events, total, err := l.List(context.Background(), Filter{
		EventTypes: []EventType{EventAuthLogin, EventAuthLogout},
		Status:     StatusSuccess,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}
