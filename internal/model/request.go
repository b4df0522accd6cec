package model

import "time"

// Song request lifecycle states. Transitions move forward:
// PENDING → APPROVED/REJECTED → QUEUED → PLAYED. A replay re-enqueues
// a track with the provider without touching the stored status.
const (
	RequestStatusPending  = "PENDING"
	RequestStatusApproved = "APPROVED"
	RequestStatusRejected = "REJECTED"
	RequestStatusQueued   = "QUEUED"
	RequestStatusPlayed   = "PLAYED"
)

// ValidRequestStatus reports whether s is one of the enumerated
// request statuses.
func ValidRequestStatus(s string) bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected,
		RequestStatusQueued, RequestStatusPlayed:
		return true
	}
	return false
}

// SongRequest represents a guest submission in the `song_requests`
// table. Rows are strictly tenant-scoped: every query filters by
// UserID. The submitter is identified only by a salted SHA-256 hash
// of their IP, never the raw address.
//
// Fields:
//  ID                – primary key identifier.
//  UserID            – owning tenant.
//  TrackURI          – provider track URI (spotify:track:...).
//  TrackName         – resolved track title.
//  ArtistName        – resolved primary artist.
//  AlbumName         – resolved album title.
//  DurationMS        – track length in milliseconds.
//  RequesterNickname – optional display name entered by the guest.
//  RequesterIPHash   – salted hash identifying the submitter.
//  Status            – lifecycle state.
//  CreatedAt         – submission time.
//  ApprovedAt        – set when the host approves (nullable).
//  PlayedAt          – set by reconciliation (nullable).
type SongRequest struct {
	ID                uint64     // song_requests.id
	UserID            uint64     // song_requests.user_id
	TrackURI          string     // song_requests.track_uri
	TrackName         string     // song_requests.track_name
	ArtistName        string     // song_requests.artist_name
	AlbumName         string     // song_requests.album_name
	DurationMS        uint32     // song_requests.duration_ms
	RequesterNickname string     // song_requests.requester_nickname
	RequesterIPHash   string     // song_requests.requester_ip_hash
	Status            string     // song_requests.status
	CreatedAt         time.Time  // song_requests.created_at
	ApprovedAt        *time.Time // song_requests.approved_at (nullable)
	PlayedAt          *time.Time // song_requests.played_at (nullable)
}
