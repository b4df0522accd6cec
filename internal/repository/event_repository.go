package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/partyjam/partyjam/internal/model"
)

// EventRepo provides access to the `events` table. Each tenant owns
// at most one event row (unique key on user_id); its version column
// implements optimistic concurrency for concurrent admin writers.
type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

const eventColumns = "id,user_id,status,version,config,admin_session_active,updated_at"

func scanEvent(scan func(dest ...any) error) (model.Event, error) {
	var (
		ev  model.Event
		raw []byte
	)
	err := scan(&ev.ID, &ev.UserID, &ev.Status, &ev.Version, &raw,
		&ev.AdminSessionActive, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(raw, &ev.Config); err != nil {
		return ev, err
	}
	return ev, nil
}

// GetByTenant returns the tenant's event row.
func (r *EventRepo) GetByTenant(ctx context.Context, userID uint64) (model.Event, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE user_id=? LIMIT 1", userID)
	return scanEvent(row.Scan)
}

// Create inserts a fresh OFFLINE event for the tenant with the given
// config and version 0. The unique key on user_id guarantees at most
// one authoritative row per tenant; a concurrent creator loses with a
// duplicate-key error and should re-read.
func (r *EventRepo) Create(ctx context.Context, userID uint64, cfg model.EventConfig) (model.Event, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return model.Event{}, err
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO events (user_id, status, version, config) VALUES (?,?,0,?)",
		userID, model.EventStatusOffline, raw)
	if err != nil {
		return model.Event{}, err
	}
	return r.GetByTenant(ctx, userID)
}

// UpdateVersioned applies a full event state write guarded by the
// expected version. The UPDATE matches on both id and version; zero
// affected rows means another writer got there first and the caller
// receives ErrVersionConflict. On success the stored version is
// expectedVersion+1.
func (r *EventRepo) UpdateVersioned(ctx context.Context, ev model.Event, expectedVersion uint64) (model.Event, error) {
	raw, err := json.Marshal(ev.Config)
	if err != nil {
		return model.Event{}, err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE events SET status=?, config=?, admin_session_active=?, version=version+1
		 WHERE id=? AND user_id=? AND version=?`,
		ev.Status, raw, ev.AdminSessionActive, ev.ID, ev.UserID, expectedVersion)
	if err != nil {
		return model.Event{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Event{}, err
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		if _, gerr := r.GetByTenant(ctx, ev.UserID); gerr != nil {
			return model.Event{}, gerr
		}
		return model.Event{}, ErrVersionConflict
	}
	return r.GetByTenant(ctx, ev.UserID)
}

// SetAdminSession flips the admin-session marker without touching the
// version counter; session presence is not part of the optimistic
// concurrency contract.
func (r *EventRepo) SetAdminSession(ctx context.Context, userID uint64, active bool) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE events SET admin_session_active=? WHERE user_id=?", active, userID)
	return err
}
