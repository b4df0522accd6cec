// Package service contains the coordination layer: the event state
// machine, the request lifecycle manager and the notification
// fan-out. Handlers stay thin; every invariant lives here.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/queue"
)

// RelayPublisher is the outbound leg of the fan-out; satisfied by
// queue.Publisher.
type RelayPublisher interface {
	Publish(ev queue.DomainEvent)
}

// EventLogStore is the durable leg backing the polling fallback;
// satisfied by repository.EventLogRepo.
type EventLogStore interface {
	Append(ctx context.Context, userID, eventID uint64, action string, version uint64, payload json.RawMessage) (uint64, error)
}

// Notifier translates internal state transitions into outbound domain
// events: one durable event_log row (for polling clients) and one
// relay publish (for connected clients). Both legs are best-effort:
// Emit never returns an error and never blocks the state change that
// triggered it beyond the log insert.
type Notifier struct {
	logStore EventLogStore
	relay    RelayPublisher
	log      zerolog.Logger
	now      func() time.Time
}

func NewNotifier(logStore EventLogStore, relay RelayPublisher, log zerolog.Logger) *Notifier {
	return &Notifier{logStore: logStore, relay: relay, log: log, now: time.Now}
}

// Emit records and broadcasts one domain event. payload must be
// JSON-marshalable; a marshal failure downgrades to an empty payload
// rather than suppressing the event.
func (n *Notifier) Emit(ctx context.Context, tenantID uint64, tenantUsername string, eventID uint64, version uint64, action string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			n.log.Error().Err(err).Str("action", action).Msg("event payload marshal failed")
		} else {
			raw = b
		}
	}

	seq, err := n.logStore.Append(ctx, tenantID, eventID, action, version, raw)
	if err != nil {
		// The polling fallback misses this event; relay delivery may
		// still reach connected clients.
		n.log.Error().Err(err).Str("action", action).Uint64("tenant", tenantID).
			Msg("event log append failed")
	}

	if n.relay != nil {
		n.relay.Publish(queue.DomainEvent{
			ID:        uuid.NewString(),
			Tenant:    tenantUsername,
			EventID:   eventID,
			Action:    action,
			Sequence:  seq,
			Version:   version,
			Timestamp: n.now().UTC().Format(time.RFC3339Nano),
			Payload:   raw,
		})
	}
}
