package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"taskboard/internal/domain"
)

// KV is the string-keyed, string-valued store the board mirrors itself into.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

var (
	ErrNotFound      = domain.ErrNotFound
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Repo is the SQLite-backed KV store and event log.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r Repo) Set(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, r.now().UTC().Format(time.RFC3339))
	return err
}

// Keys lists stored keys, mostly for diagnostics.
func (r Repo) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// LatestEvents returns the newest n events, optionally filtered by type and entity.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, n, 0, evtType, entityKind, entityID)
}

// LatestEventsFrom pages backwards through the log: a positive cursor returns
// only events with a smaller id.
func (r Repo) LatestEventsFrom(ctx context.Context, n int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	var (
		clauses []string
		args    []any
	)
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := eventColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns up to n events with an id above after, oldest first.
func (r Repo) EventsAfter(ctx context.Context, n int, after int64) ([]domain.Event, error) {
	if n <= 0 {
		n = 100
	}
	return r.queryEvents(ctx, eventColumns+" WHERE id>? ORDER BY id ASC LIMIT ?", after, n)
}

// LatestEventID is the id of the newest event, or 0 for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

const eventColumns = `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
