package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/partyjam/partyjam/internal/model"
)

// SpotifyTokenRepo stores one OAuth token set per tenant in the
// `spotify_tokens` table.
type SpotifyTokenRepo struct{ DB *sql.DB }

func NewSpotifyTokenRepo(db *sql.DB) *SpotifyTokenRepo { return &SpotifyTokenRepo{DB: db} }

// Get returns the tenant's token record, or ErrNotFound when the
// tenant has no connected Spotify account.
func (r *SpotifyTokenRepo) Get(ctx context.Context, userID uint64) (model.SpotifyToken, error) {
	var t model.SpotifyToken
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, scope, expires_at, updated_at
		 FROM spotify_tokens WHERE user_id=? LIMIT 1`, userID).
		Scan(&t.UserID, &t.AccessToken, &t.RefreshToken, &t.Scope, &t.ExpiresAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// Upsert writes the token set in place. Spotify may rotate the
// refresh token on renewal, so both tokens are replaced atomically in
// one statement.
func (r *SpotifyTokenRepo) Upsert(ctx context.Context, userID uint64, accessToken, refreshToken, scope string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO spotify_tokens (user_id, access_token, refresh_token, scope, expires_at)
		 VALUES (?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		   access_token=VALUES(access_token),
		   refresh_token=VALUES(refresh_token),
		   scope=VALUES(scope),
		   expires_at=VALUES(expires_at)`,
		userID, accessToken, refreshToken, scope, expiresAt)
	return err
}

// Delete clears the tenant's token record on disconnect.
func (r *SpotifyTokenRepo) Delete(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM spotify_tokens WHERE user_id=?", userID)
	return err
}

// ConnectedTenantIDs lists every tenant holding a token record. The
// reconciliation manager uses it to start loops at boot.
func (r *SpotifyTokenRepo) ConnectedTenantIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT user_id FROM spotify_tokens")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
