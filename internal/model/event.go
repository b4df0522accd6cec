package model

import "time"

// Event status values. An event always exists for an active tenant;
// OFFLINE is the resting state, STANDBY lets the host prepare pages
// before going LIVE.
const (
	EventStatusOffline = "OFFLINE"
	EventStatusStandby = "STANDBY"
	EventStatusLive    = "LIVE"
)

// ValidEventStatus reports whether s is one of the enumerated event
// statuses.
func ValidEventStatus(s string) bool {
	switch s {
	case EventStatusOffline, EventStatusStandby, EventStatusLive:
		return true
	}
	return false
}

// EventConfig is the per-tenant page configuration stored as a JSON
// column on the events row. It is an explicit struct rather than an
// open map so every field has a documented default and is validated
// at the boundary.
type EventConfig struct {
	RequestsPageEnabled    bool   `json:"requests_page_enabled"`
	DisplayPageEnabled     bool   `json:"display_page_enabled"`
	Title                  string `json:"title"`
	WelcomeMessage         string `json:"welcome_message"`
	ShowQRCode             bool   `json:"show_qr_code"`
	RefreshIntervalSeconds int    `json:"refresh_interval_seconds"`
	MaxRequestsPerHour     int    `json:"max_requests_per_hour"`
	CooldownSeconds        int    `json:"cooldown_seconds"`
	AutoApprove            bool   `json:"auto_approve"`
}

// DefaultEventConfig returns the configuration applied to a freshly
// created event. Both public pages start disabled.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		RequestsPageEnabled:    false,
		DisplayPageEnabled:     false,
		Title:                  "Party Request Hub",
		WelcomeMessage:         "",
		ShowQRCode:             true,
		RefreshIntervalSeconds: 20,
		MaxRequestsPerHour:     10,
		CooldownSeconds:        30,
		AutoApprove:            false,
	}
}

// Event represents the party session for one tenant. At most one row
// is authoritative per tenant (unique key on user_id). Version is a
// monotonically increasing counter used for optimistic concurrency:
// every write carries the version it read and increments it by one.
//
// Fields:
//  ID                 – primary key identifier.
//  UserID             – owning tenant.
//  Status             – OFFLINE, STANDBY or LIVE.
//  Version            – optimistic-concurrency counter.
//  Config             – page configuration blob.
//  AdminSessionActive – whether the host currently has a session.
//  UpdatedAt          – timestamp of last update.
type Event struct {
	ID                 uint64      // events.id
	UserID             uint64      // events.user_id
	Status             string      // events.status
	Version            uint64      // events.version
	Config             EventConfig // events.config (JSON)
	AdminSessionActive bool        // events.admin_session_active
	UpdatedAt          time.Time   // events.updated_at
}

// Access credential kinds. A PIN gates the guest request page; a
// bypass token is a long random secret embedded in shareable links.
const (
	CredentialKindPIN    = "PIN"
	CredentialKindBypass = "BYPASS"
)

// AccessCredential models a row in `event_access_credentials`. Only
// the SHA-256 hash of the secret is stored; the plaintext is returned
// exactly once at issuance. At most one active credential exists per
// (event, kind) at a time.
type AccessCredential struct {
	ID            uint64    // event_access_credentials.id
	EventID       uint64    // event_access_credentials.event_id
	Kind          string    // event_access_credentials.kind
	SecretHash    string    // event_access_credentials.secret_hash
	UsesRemaining *int      // event_access_credentials.uses_remaining (nullable)
	Active        bool      // event_access_credentials.active
	ExpiresAt     time.Time // event_access_credentials.expires_at
	CreatedAt     time.Time // event_access_credentials.created_at
}

// Expired reports whether the credential's expiry has passed at t.
func (c AccessCredential) Expired(t time.Time) bool { return !t.Before(c.ExpiresAt) }
