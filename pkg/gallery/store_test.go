package gallery

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_GetPhoto(t *testing.T) {
	ctx := context.Background()
	columns := []string{
		"id", "album_id", "media_type", "original_key", "original_filename", "content_type", "size_bytes",
		"width", "height", "duration_ms", "caption", "position", "status", "failure_reason", "variants",
		"taken_at", "uploaded_by", "created_at", "updated_at",
	}

	t.Run("decodes variants", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now().UTC()
		rows := sqlmock.NewRows(columns).AddRow(7, 1, "image", "originals/a/b.jpg", "b.jpg", "image/jpeg", 1024,
			800, 600, 0, "", 0, "ready", "", `{"thumb":{"key":"variants/7/thumb.jpg","content_type":"image/jpeg"}}`,
			nil, nil, now, now)
		mock.ExpectQuery(`SELECT id, album_id, .* FROM photos WHERE id = \$1`).
			WithArgs(int64(7)).
			WillReturnRows(rows)

		p, err := store.GetPhoto(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, StatusReady, p.Status)
		assert.Equal(t, "variants/7/thumb.jpg", p.Variants["thumb"].Key)
		assert.ElementsMatch(t, []string{"originals/a/b.jpg", "variants/7/thumb.jpg"}, p.BlobKeys())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt variants", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now().UTC()
		rows := sqlmock.NewRows(columns).AddRow(8, 1, "image", "k", "", "image/jpeg", 0,
			0, 0, 0, "", 0, "ready", "", `{not json`, nil, nil, now, now)
		mock.ExpectQuery(`FROM photos WHERE id = \$1`).WithArgs(int64(8)).WillReturnRows(rows)

		_, err := store.GetPhoto(ctx, 8)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode variants")
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM photos WHERE id = \$1`).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)

		_, err := store.GetPhoto(ctx, 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListAlbumsPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM albums a WHERE a.visibility IN \(\$1, \$2\) ORDER BY .* LIMIT \$3 OFFSET \$4`).
		WithArgs("public", "unlisted", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	albums, err := store.ListAlbums(context.Background(), AlbumFilter{
		Visibility: []Visibility{VisibilityPublic, VisibilityUnlisted},
		Limit:      10,
		Offset:     20,
	})
	require.NoError(t, err)
	assert.Empty(t, albums)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeletePhotoRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT album_id FROM photos WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"album_id"}).AddRow(1))
	mock.ExpectExec(`UPDATE albums SET cover_photo_id = NULL`).
		WithArgs(now, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM photos WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := store.DeletePhoto(context.Background(), 3, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete photo")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateAlbumSlugConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO albums`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateAlbum(context.Background(), &Album{Slug: "dup", Title: "Dup", Visibility: VisibilityPrivate,
		CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrSlugTaken)
}
