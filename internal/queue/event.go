// Package queue defines the domain-event payloads pushed to the
// real-time relay and the publisher that delivers them.
package queue

import "encoding/json"

// Actions carried by domain events. Consumers switch on these names.
const (
	ActionRequestSubmitted    = "request.submitted"
	ActionRequestApproved     = "request.approved"
	ActionRequestRejected     = "request.rejected"
	ActionRequestDeleted      = "request.deleted"
	ActionRequestQueued       = "request.queued"
	ActionRequestPlayed       = "request.played"
	ActionPlaybackUpdated     = "playback.updated"
	ActionEventUpdated        = "event.updated"
	ActionPageToggled         = "page.toggled"
	ActionAdminLogin          = "admin.login"
	ActionAdminLogout         = "admin.logout"
	ActionSpotifyTokenExpired = "spotify.token_expired"
)

// DomainEvent is one state change broadcast over the relay. ID is a
// per-process UUID; Sequence and Version give consumers a total order
// (Sequence is the event_log monotonic id, Version the event's
// optimistic-concurrency counter at emission time).
type DomainEvent struct {
	ID        string          `json:"id"`
	Tenant    string          `json:"tenant"`
	EventID   uint64          `json:"event_id"`
	Action    string          `json:"action"`
	Sequence  uint64          `json:"sequence"`
	Version   uint64          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
