package gallery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/lightbox/pkg/database"
)

// Store persists albums and photos
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

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const albumColumns = `a.id, a.slug, a.title, a.description, a.cover_photo_id, a.visibility, a.sort_order,
		(SELECT COUNT(*) FROM photos p WHERE p.album_id = a.id) AS photo_count,
		a.created_by, a.created_at, a.updated_at`

func scanAlbum(row rowScanner) (*Album, error) {
	a := &Album{}
	var cover, createdBy sql.NullInt64
	err := row.Scan(&a.ID, &a.Slug, &a.Title, &a.Description, &cover, &a.Visibility, &a.SortOrder,
		&a.PhotoCount, &createdBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.CoverPhotoID = database.Int64Ptr(cover)
	a.CreatedBy = database.Int64Ptr(createdBy)
	return a, nil
}

func (s *Store) queryAlbum(ctx context.Context, q queryer, where string, arg interface{}) (*Album, error) {
	a, err := scanAlbum(q.QueryRowContext(ctx, `SELECT `+albumColumns+` FROM albums a WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get album: %w", err)
	}
	return a, nil
}

// GetAlbum loads an album by id
func (s *Store) GetAlbum(ctx context.Context, id int64) (*Album, error) {
	return s.queryAlbum(ctx, s.db, `a.id = $1`, id)
}

// GetAlbumBySlug loads an album by slug
func (s *Store) GetAlbumBySlug(ctx context.Context, slug string) (*Album, error) {
	return s.queryAlbum(ctx, s.db, `a.slug = $1`, slug)
}

// SlugExists reports whether slug is used by an album other than exceptID
func (s *Store) SlugExists(ctx context.Context, slug string, exceptID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM albums WHERE slug = $1 AND id <> $2`, slug, exceptID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return n > 0, nil
}

// ListAlbums returns albums ordered by sort order, newest first within a tie
func (s *Store) ListAlbums(ctx context.Context, f AlbumFilter) ([]*Album, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.Visibility) > 0 {
		marks := make([]string, len(f.Visibility))
		for i, v := range f.Visibility {
			args = append(args, string(v))
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "a.visibility IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + albumColumns + ` FROM albums a`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY a.sort_order ASC, a.created_at DESC, a.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	defer rows.Close()

	albums := []*Album{}
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan album: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// CreateAlbum inserts a and sets its ID
func (s *Store) CreateAlbum(ctx context.Context, a *Album) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO albums (slug, title, description, visibility, sort_order, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		a.Slug, a.Title, a.Description, a.Visibility, a.SortOrder, database.NullInt64(a.CreatedBy),
		a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if database.IsUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create album: %w", err)
	}
	return nil
}

// NextAlbumSortOrder returns one past the highest sort order
func (s *Store) NextAlbumSortOrder(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), -1) + 1 FROM albums`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get sort order: %w", err)
	}
	return n, nil
}

// UpdateAlbum writes the editable fields
func (s *Store) UpdateAlbum(ctx context.Context, a *Album) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE albums SET slug = $1, title = $2, description = $3, visibility = $4, updated_at = $5
		WHERE id = $6`,
		a.Slug, a.Title, a.Description, a.Visibility, a.UpdatedAt, a.ID)
	if database.IsUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update album: %w", err)
	}
	return expectOne(result)
}

// DeleteAlbum removes the album and, by cascade, its photos
func (s *Store) DeleteAlbum(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM albums WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete album: %w", err)
	}
	return expectOne(result)
}

// ReorderAlbums assigns sort_order by position in ids. ids must name every album.
func (s *Store) ReorderAlbums(ctx context.Context, ids []int64, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := collectIDs(ctx, tx, `SELECT id FROM albums`)
		if err != nil {
			return err
		}
		if !sameSet(existing, ids) {
			return ErrReorderMismatch
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE albums SET sort_order = $1, updated_at = $2 WHERE id = $3`, i, now, id); err != nil {
				return fmt.Errorf("failed to reorder albums: %w", err)
			}
		}
		return nil
	})
}

// SetCover sets or clears (photoID nil) the album cover
func (s *Store) SetCover(ctx context.Context, albumID int64, photoID *int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE albums SET cover_photo_id = $1, updated_at = $2 WHERE id = $3`,
		database.NullInt64(photoID), now, albumID)
	if err != nil {
		return fmt.Errorf("failed to set cover: %w", err)
	}
	return expectOne(result)
}

const photoColumns = `id, album_id, media_type, original_key, original_filename, content_type, size_bytes,
		width, height, duration_ms, caption, position, status, failure_reason, variants, taken_at,
		uploaded_by, created_at, updated_at`

func scanPhoto(row rowScanner) (*Photo, error) {
	p := &Photo{}
	var variants string
	var takenAt sql.NullTime
	var uploadedBy sql.NullInt64
	err := row.Scan(&p.ID, &p.AlbumID, &p.MediaType, &p.OriginalKey, &p.OriginalFilename, &p.ContentType,
		&p.SizeBytes, &p.Width, &p.Height, &p.DurationMS, &p.Caption, &p.Position, &p.Status,
		&p.FailureReason, &variants, &takenAt, &uploadedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Variants = map[string]Variant{}
	if variants != "" {
		if err := json.Unmarshal([]byte(variants), &p.Variants); err != nil {
			return nil, fmt.Errorf("failed to decode variants of photo %d: %w", p.ID, err)
		}
	}
	p.TakenAt = database.TimePtr(takenAt)
	p.UploadedBy = database.Int64Ptr(uploadedBy)
	return p, nil
}

// GetPhoto loads a photo by id
func (s *Store) GetPhoto(ctx context.Context, id int64) (*Photo, error) {
	p, err := scanPhoto(s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	return p, nil
}

func listPhotos(ctx context.Context, q queryer, query string, args ...interface{}) ([]*Photo, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	photos := []*Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// ListPhotos returns an album's photos in display order
func (s *Store) ListPhotos(ctx context.Context, albumID int64, onlyReady bool) ([]*Photo, error) {
	if onlyReady {
		return listPhotos(ctx, s.db, `SELECT `+photoColumns+` FROM photos
			WHERE album_id = $1 AND status = $2 ORDER BY position ASC, id ASC`, albumID, StatusReady)
	}
	return listPhotos(ctx, s.db, `SELECT `+photoColumns+` FROM photos
		WHERE album_id = $1 ORDER BY position ASC, id ASC`, albumID)
}

// ListStale returns photos stuck in pending or processing since before cutoff
func (s *Store) ListStale(ctx context.Context, before time.Time) ([]*Photo, error) {
	return listPhotos(ctx, s.db, `SELECT `+photoColumns+` FROM photos
		WHERE status IN ($1, $2) AND updated_at < $3 ORDER BY id ASC`,
		StatusPending, StatusProcessing, before)
}

// CreatePhoto appends p to the end of its album
func (s *Store) CreatePhoto(ctx context.Context, p *Photo) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM albums WHERE id = $1`, p.AlbumID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check album: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM photos WHERE album_id = $1`, p.AlbumID,
		).Scan(&p.Position); err != nil {
			return fmt.Errorf("failed to get position: %w", err)
		}

		variants, err := json.Marshal(p.Variants)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO photos (album_id, media_type, original_key, original_filename, content_type, size_bytes,
				caption, position, status, variants, taken_at, uploaded_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			p.AlbumID, p.MediaType, p.OriginalKey, p.OriginalFilename, p.ContentType, p.SizeBytes,
			p.Caption, p.Position, p.Status, string(variants), database.NullTime(p.TakenAt),
			database.NullInt64(p.UploadedBy), p.CreatedAt, p.UpdatedAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to create photo: %w", err)
		}
		return nil
	})
}

// UpdatePhotoDetails writes caption and capture time
func (s *Store) UpdatePhotoDetails(ctx context.Context, p *Photo) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE photos SET caption = $1, taken_at = $2, updated_at = $3 WHERE id = $4`,
		p.Caption, database.NullTime(p.TakenAt), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	return expectOne(result)
}

// SetStatus moves a photo to status, recording reason for failures
func (s *Store) SetStatus(ctx context.Context, id int64, status Status, reason string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE photos SET status = $1, failure_reason = $2, updated_at = $3 WHERE id = $4`,
		status, reason, now, id)
	if err != nil {
		return fmt.Errorf("failed to set photo status: %w", err)
	}
	return expectOne(result)
}

// SetReady stores variants and measured dimensions and marks the photo ready
func (s *Store) SetReady(ctx context.Context, id int64, variants map[string]Variant, dims Dimensions, now time.Time) error {
	encoded, err := json.Marshal(variants)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE photos SET status = $1, failure_reason = $2, variants = $3, width = $4, height = $5,
			duration_ms = $6, updated_at = $7
		WHERE id = $8`,
		StatusReady, "", string(encoded), dims.Width, dims.Height, dims.DurationMS, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark photo ready: %w", err)
	}
	return expectOne(result)
}

// MovePhoto appends a photo to another album, clearing the source cover if
// needed and closing the gap it leaves.
func (s *Store) MovePhoto(ctx context.Context, photoID, toAlbumID int64, now time.Time) (fromAlbumID int64, err error) {
	err = database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		var fromPos int
		err := tx.QueryRowContext(ctx,
			`SELECT album_id, position FROM photos WHERE id = $1`, photoID).Scan(&fromAlbumID, &fromPos)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load photo: %w", err)
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM albums WHERE id = $1`, toAlbumID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check album: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		if fromAlbumID == toAlbumID {
			return nil
		}

		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM photos WHERE album_id = $1`, toAlbumID,
		).Scan(&pos); err != nil {
			return fmt.Errorf("failed to get position: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE photos SET album_id = $1, position = $2, updated_at = $3 WHERE id = $4`,
			toAlbumID, pos, now, photoID); err != nil {
			return fmt.Errorf("failed to move photo: %w", err)
		}
		if err := clearCover(ctx, tx, photoID, now); err != nil {
			return err
		}
		return compactPositions(ctx, tx, fromAlbumID)
	})
	return fromAlbumID, err
}

// DeletePhoto removes the row, clears it as a cover and closes the gap
func (s *Store) DeletePhoto(ctx context.Context, id int64, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		var albumID int64
		err := tx.QueryRowContext(ctx, `SELECT album_id FROM photos WHERE id = $1`, id).Scan(&albumID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load photo: %w", err)
		}
		if err := clearCover(ctx, tx, id, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete photo: %w", err)
		}
		return compactPositions(ctx, tx, albumID)
	})
}

// ReorderPhotos assigns positions 0..n-1 in the order of ids. ids must name
// every photo of the album.
func (s *Store) ReorderPhotos(ctx context.Context, albumID int64, ids []int64, now time.Time) error {
	return database.Tx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := collectIDs(ctx, tx, `SELECT id FROM photos WHERE album_id = $1`, albumID)
		if err != nil {
			return err
		}
		if !sameSet(existing, ids) {
			return ErrReorderMismatch
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE photos SET position = $1, updated_at = $2 WHERE id = $3`, i, now, id); err != nil {
				return fmt.Errorf("failed to reorder photos: %w", err)
			}
		}
		return nil
	})
}

func clearCover(ctx context.Context, tx *sql.Tx, photoID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE albums SET cover_photo_id = NULL, updated_at = $1 WHERE cover_photo_id = $2`,
		now, photoID); err != nil {
		return fmt.Errorf("failed to clear cover: %w", err)
	}
	return nil
}

// compactPositions renumbers an album's photos 0..n-1 keeping their order
func compactPositions(ctx context.Context, tx *sql.Tx, albumID int64) error {
	ids, err := collectIDs(ctx, tx,
		`SELECT id FROM photos WHERE album_id = $1 ORDER BY position ASC, id ASC`, albumID)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE photos SET position = $1 WHERE id = $2`, i, id); err != nil {
			return fmt.Errorf("failed to compact positions: %w", err)
		}
	}
	return nil
}

// collectIDs reads a single id column fully before returning
func collectIDs(ctx context.Context, q queryer, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func sameSet(existing, ids []int64) bool {
	if len(existing) != len(ids) {
		return false
	}
	seen := make(map[int64]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return true
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
