package audit

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

// ErrNotFound is returned when an audit event does not exist
var ErrNotFound = errors.New("audit event not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// DBLogger writes audit events to the audit_logs table and queries them
type DBLogger struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (
			event_type, status, actor_id, actor_username, target_type, target_id,
			ip_address, user_agent, request_id, message, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		event.EventType, event.Status, database.NullInt64(event.ActorID), event.ActorUsername,
		event.TargetType, event.TargetID, event.IPAddress, event.UserAgent, event.RequestID,
		event.Message, string(metadata), event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Close is a no-op; the database is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

const eventColumns = `id, event_type, status, actor_id, actor_username, target_type, target_id,
	ip_address, user_agent, request_id, message, metadata, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	e := &Event{}
	var actorID sql.NullInt64
	var metadata string
	if err := row.Scan(&e.ID, &e.EventType, &e.Status, &actorID, &e.ActorUsername, &e.TargetType, &e.TargetID,
		&e.IPAddress, &e.UserAgent, &e.RequestID, &e.Message, &metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ActorID = database.Int64Ptr(actorID)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of event %d: %w", e.ID, err)
		}
	}
	return e, nil
}

// buildWhere turns a filter into a WHERE clause with numbered placeholders
func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			args = append(args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, pattern, pattern)
		conds = append(conds, fmt.Sprintf("(LOWER(message) LIKE $%d OR LOWER(actor_username) LIKE $%d)",
			len(args)-1, len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching events, newest first, and the total number of matches
func (l *DBLogger) List(ctx context.Context, f Filter) ([]*Event, int64, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := buildWhere(f)

	var total int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)+1, len(args)+2)
	rows, err := l.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Get loads one event
func (l *DBLogger) Get(ctx context.Context, id int64) (*Event, error) {
	e, err := scanEvent(l.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return e, nil
}

// Cleanup deletes events older than before and returns how many were removed
func (l *DBLogger) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Stats summarises events created since the given time
func (l *DBLogger) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		ByType:   map[EventType]int64{},
		ByStatus: map[Status]int64{},
		Since:    since,
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, status, COUNT(*) FROM audit_logs
		WHERE created_at >= $1 GROUP BY event_type, status`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t EventType
		var s Status
		var n int64
		if err := rows.Scan(&t, &s, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats.ByType[t] += n
		stats.ByStatus[s] += n
		stats.TotalEvents += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.FailedLogins = stats.ByType[EventAuthLoginFailed]

	err = l.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT actor_id), COUNT(DISTINCT NULLIF(ip_address, ''))
		FROM audit_logs WHERE created_at >= $1`, since).Scan(&stats.UniqueActors, &stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit actors: %w", err)
	}
	return stats, nil
}
