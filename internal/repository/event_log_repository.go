package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/partyjam/partyjam/internal/model"
)

// EventLogRepo appends and reads durable domain events in the
// `event_log` table. The auto-increment id provides the monotonic
// ordering consumed by the polling fallback endpoint.
type EventLogRepo struct{ DB *sql.DB }

func NewEventLogRepo(db *sql.DB) *EventLogRepo { return &EventLogRepo{DB: db} }

// Append inserts one domain event and returns its monotonic id.
func (r *EventLogRepo) Append(ctx context.Context, userID, eventID uint64, action string, version uint64, payload json.RawMessage) (uint64, error) {
	var raw any
	if len(payload) > 0 {
		raw = []byte(payload)
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO event_log (user_id, event_id, action, version, payload) VALUES (?,?,?,?,?)",
		userID, eventID, action, version, raw)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ListSince returns the tenant's domain events with an id greater
// than the cursor, oldest first, capped at limit. It backs the
// polling fallback for clients without a relay connection; the id is
// the client's resume cursor.
func (r *EventLogRepo) ListSince(ctx context.Context, userID, sinceID uint64, limit int) ([]model.EventLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, event_id, action, version, payload, created_at
		 FROM event_log WHERE user_id=? AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		userID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.EventLogEntry{}
	for rows.Next() {
		var (
			e   model.EventLogEntry
			raw sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventID, &e.Action, &e.Version, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if raw.Valid {
			e.Payload = json.RawMessage(raw.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBefore prunes old log rows; the retention sweep calls it so
// the table does not grow without bound.
func (r *EventLogRepo) DeleteBefore(ctx context.Context, userID uint64, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM event_log WHERE user_id=? AND created_at < ?", userID, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
