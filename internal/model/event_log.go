package model

import (
	"encoding/json"
	"time"
)

// EventLogEntry is one durable domain event in the `event_log` table.
// The auto-increment ID doubles as the monotonic ordering key for the
// polling fallback; Version carries the event's optimistic-concurrency
// counter at emission time.
type EventLogEntry struct {
	ID        uint64          // event_log.id
	UserID    uint64          // event_log.user_id
	EventID   uint64          // event_log.event_id
	Action    string          // event_log.action
	Version   uint64          // event_log.version
	Payload   json.RawMessage // event_log.payload (nullable)
	CreatedAt time.Time       // event_log.created_at
}
