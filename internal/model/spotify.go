package model

import "time"

// SpotifyToken holds the per-tenant OAuth token set in the
// `spotify_tokens` table. Exactly one row exists per connected
// tenant; it is refreshed in place and deleted on disconnect.
type SpotifyToken struct {
	UserID       uint64    // spotify_tokens.user_id
	AccessToken  string    // spotify_tokens.access_token
	RefreshToken string    // spotify_tokens.refresh_token
	Scope        string    // spotify_tokens.scope
	ExpiresAt    time.Time // spotify_tokens.expires_at
	UpdatedAt    time.Time // spotify_tokens.updated_at
}

// ExpiresWithin reports whether the access token expires before
// now+margin, meaning a refresh is due.
func (t SpotifyToken) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(t.ExpiresAt)
}
