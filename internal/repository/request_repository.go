package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/partyjam/partyjam/internal/model"
)

// RequestRepo provides CRUD and status-indexed queries over the
// `song_requests` table. Every statement filters by the owning
// tenant's user_id; cross-tenant reads or writes are impossible
// through this type.
type RequestRepo struct{ DB *sql.DB }

func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{DB: db} }

const requestColumns = `id,user_id,track_uri,track_name,artist_name,album_name,duration_ms,
requester_nickname,requester_ip_hash,status,created_at,approved_at,played_at`

func scanRequest(scan func(dest ...any) error) (model.SongRequest, error) {
	var (
		sr         model.SongRequest
		approvedAt sql.NullTime
		playedAt   sql.NullTime
	)
	err := scan(&sr.ID, &sr.UserID, &sr.TrackURI, &sr.TrackName, &sr.ArtistName,
		&sr.AlbumName, &sr.DurationMS, &sr.RequesterNickname, &sr.RequesterIPHash,
		&sr.Status, &sr.CreatedAt, &approvedAt, &playedAt)
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	if err != nil {
		return sr, err
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		sr.ApprovedAt = &t
	}
	if playedAt.Valid {
		t := playedAt.Time
		sr.PlayedAt = &t
	}
	return sr, nil
}

// Create inserts a new request and returns the stored row.
func (r *RequestRepo) Create(ctx context.Context, sr model.SongRequest) (model.SongRequest, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO song_requests
		 (user_id, track_uri, track_name, artist_name, album_name, duration_ms,
		  requester_nickname, requester_ip_hash, status, approved_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sr.UserID, sr.TrackURI, sr.TrackName, sr.ArtistName, sr.AlbumName,
		sr.DurationMS, sr.RequesterNickname, sr.RequesterIPHash, sr.Status, sr.ApprovedAt)
	if err != nil {
		return model.SongRequest{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.SongRequest{}, err
	}
	return r.GetByIDForTenant(ctx, uint64(id), sr.UserID)
}

// GetByIDForTenant fetches one request scoped to its owning tenant.
// A request belonging to another tenant yields ErrNotFound, identical
// to an absent row.
func (r *RequestRepo) GetByIDForTenant(ctx context.Context, id, userID uint64) (model.SongRequest, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM song_requests WHERE id=? AND user_id=? LIMIT 1",
		id, userID)
	return scanRequest(row.Scan)
}

// ListByTenant returns requests for a tenant, optionally filtered by
// status, newest first, with limit/offset pagination.
func (r *RequestRepo) ListByTenant(ctx context.Context, userID uint64, status string, limit, offset int) ([]model.SongRequest, error) {
	q := "SELECT " + requestColumns + " FROM song_requests WHERE user_id=?"
	args := []any{userID}
	if status != "" {
		q += " AND status=?"
		args = append(args, status)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SongRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// ListQueueSnapshot returns APPROVED and QUEUED requests oldest first
// for the public display page.
func (r *RequestRepo) ListQueueSnapshot(ctx context.Context, userID uint64, limit int) ([]model.SongRequest, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+requestColumns+` FROM song_requests
		 WHERE user_id=? AND status IN (?,?)
		 ORDER BY approved_at ASC, id ASC LIMIT ?`,
		userID, model.RequestStatusApproved, model.RequestStatusQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SongRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// SetStatus transitions one tenant-scoped request to a new status,
// stamping approved_at / played_at as appropriate.
func (r *RequestRepo) SetStatus(ctx context.Context, id, userID uint64, status string) error {
	q := "UPDATE song_requests SET status=?"
	switch status {
	case model.RequestStatusApproved:
		q += ", approved_at=NOW()"
	case model.RequestStatusPlayed:
		q += ", played_at=NOW()"
	}
	q += " WHERE id=? AND user_id=?"
	res, err := r.DB.ExecContext(ctx, q, status, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRecentDuplicate looks for a request of the same track submitted
// for the tenant after the cutoff whose status still blocks a resubmit
// (pending, approved or queued). Played and rejected duplicates do not
// block.
func (r *RequestRepo) FindRecentDuplicate(ctx context.Context, userID uint64, trackURI string, since time.Time) (model.SongRequest, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+requestColumns+` FROM song_requests
		 WHERE user_id=? AND track_uri=? AND created_at >= ? AND status IN (?,?,?)
		 ORDER BY created_at DESC LIMIT 1`,
		userID, trackURI, since,
		model.RequestStatusPending, model.RequestStatusApproved, model.RequestStatusQueued)
	return scanRequest(row.Scan)
}

// MarkPlayedByTrack transitions every APPROVED request of the tenant
// matching the given track to PLAYED and returns the affected rows.
// Matching is by exact URI or by case-insensitive (name, artist);
// multiple approved duplicates of one track are all marked.
func (r *RequestRepo) MarkPlayedByTrack(ctx context.Context, userID uint64, trackURI, trackName, artistName string) ([]model.SongRequest, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+requestColumns+` FROM song_requests
		 WHERE user_id=? AND status=?
		   AND (track_uri=? OR (LOWER(track_name)=? AND LOWER(artist_name)=?))`,
		userID, model.RequestStatusApproved, trackURI,
		strings.ToLower(trackName), strings.ToLower(artistName))
	if err != nil {
		return nil, err
	}
	matched := []model.SongRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matched = append(matched, sr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	for i := range matched {
		if _, err := r.DB.ExecContext(ctx,
			"UPDATE song_requests SET status=?, played_at=? WHERE id=? AND user_id=? AND status=?",
			model.RequestStatusPlayed, now, matched[i].ID, userID, model.RequestStatusApproved); err != nil {
			return matched[:i], err
		}
		matched[i].Status = model.RequestStatusPlayed
		t := now
		matched[i].PlayedAt = &t
	}
	return matched, nil
}

// DeletePlayedBefore removes PLAYED requests whose played_at is older
// than the cutoff and returns the deleted rows for audit logging.
// Running it twice in a row deletes nothing new.
func (r *RequestRepo) DeletePlayedBefore(ctx context.Context, userID uint64, cutoff time.Time) ([]model.SongRequest, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+requestColumns+` FROM song_requests
		 WHERE user_id=? AND status=? AND played_at IS NOT NULL AND played_at < ?`,
		userID, model.RequestStatusPlayed, cutoff)
	if err != nil {
		return nil, err
	}
	victims := []model.SongRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, sr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(victims) == 0 {
		return victims, nil
	}
	_, err = r.DB.ExecContext(ctx,
		`DELETE FROM song_requests
		 WHERE user_id=? AND status=? AND played_at IS NOT NULL AND played_at < ?`,
		userID, model.RequestStatusPlayed, cutoff)
	return victims, err
}

// Delete removes one tenant-scoped request.
func (r *RequestRepo) Delete(ctx context.Context, id, userID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM song_requests WHERE id=? AND user_id=?", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgePending deletes every PENDING request of the tenant. Invoked
// when an event ends.
func (r *RequestRepo) PurgePending(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM song_requests WHERE user_id=? AND status=?",
		userID, model.RequestStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
