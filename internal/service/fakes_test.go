package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/repository"
)

// In-memory doubles for the persistence interfaces. They reproduce
// the contracts the services rely on (CAS versioning, ErrNotFound,
// tenant scoping) without a database.

type fakeEventStore struct {
	mu     sync.Mutex
	events map[uint64]model.Event // by tenant id
	nextID uint64
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[uint64]model.Event{}, nextID: 1}
}

func (f *fakeEventStore) GetByTenant(_ context.Context, userID uint64) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[userID]
	if !ok {
		return model.Event{}, repository.ErrNotFound
	}
	return ev, nil
}

func (f *fakeEventStore) Create(_ context.Context, userID uint64, cfg model.EventConfig) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[userID]; ok {
		return model.Event{}, errNamed("Error 1062: duplicate entry")
	}
	ev := model.Event{ID: f.nextID, UserID: userID, Status: model.EventStatusOffline, Config: cfg}
	f.nextID++
	f.events[userID] = ev
	return ev, nil
}

func (f *fakeEventStore) UpdateVersioned(_ context.Context, ev model.Event, expectedVersion uint64) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.events[ev.UserID]
	if !ok {
		return model.Event{}, repository.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return model.Event{}, repository.ErrVersionConflict
	}
	ev.Version = cur.Version + 1
	f.events[ev.UserID] = ev
	return ev, nil
}

func (f *fakeEventStore) SetAdminSession(_ context.Context, userID uint64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[userID]
	if !ok {
		return repository.ErrNotFound
	}
	ev.AdminSessionActive = active
	f.events[userID] = ev
	return nil
}

type errNamed string

func (e errNamed) Error() string { return string(e) }

type fakeCredStore struct {
	mu     sync.Mutex
	creds  []model.AccessCredential
	nextID uint64
}

func newFakeCredStore() *fakeCredStore { return &fakeCredStore{nextID: 1} }

func (f *fakeCredStore) Issue(_ context.Context, eventID uint64, kind, secretHash string, usesRemaining *int, expiresAt time.Time) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.creds {
		if f.creds[i].EventID == eventID && f.creds[i].Kind == kind {
			f.creds[i].Active = false
		}
	}
	var uses *int
	if usesRemaining != nil {
		v := *usesRemaining
		uses = &v
	}
	id := f.nextID
	f.nextID++
	f.creds = append(f.creds, model.AccessCredential{
		ID: id, EventID: eventID, Kind: kind, SecretHash: secretHash,
		UsesRemaining: uses, Active: true, ExpiresAt: expiresAt,
	})
	return id, nil
}

func (f *fakeCredStore) GetActiveByHash(_ context.Context, eventID uint64, secretHash string) (model.AccessCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.EventID == eventID && c.SecretHash == secretHash && c.Active {
			return c, nil
		}
	}
	return model.AccessCredential{}, repository.ErrNotFound
}

func (f *fakeCredStore) ConsumeUse(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.creds {
		if f.creds[i].ID == id && f.creds[i].UsesRemaining != nil {
			*f.creds[i].UsesRemaining--
			if *f.creds[i].UsesRemaining <= 0 {
				f.creds[i].Active = false
			}
		}
	}
	return nil
}

func (f *fakeCredStore) DeactivateAll(_ context.Context, eventID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.creds {
		if f.creds[i].EventID == eventID {
			f.creds[i].Active = false
		}
	}
	return nil
}

type fakePurger struct {
	purged int64
	err    error
}

func (f *fakePurger) PurgePending(context.Context, uint64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.purged++
	return 2, nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []model.EventLogEntry
	err     error
}

func (f *fakeLogStore) Append(_ context.Context, userID, eventID uint64, action string, version uint64, payload json.RawMessage) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e := model.EventLogEntry{
		ID: uint64(len(f.entries) + 1), UserID: userID, EventID: eventID,
		Action: action, Version: version, Payload: payload,
	}
	f.entries = append(f.entries, e)
	return e.ID, nil
}

func (f *fakeLogStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type fakeRelay struct {
	mu        sync.Mutex
	published []queue.DomainEvent
}

func (f *fakeRelay) Publish(ev queue.DomainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
}

func newTestNotifier(logStore *fakeLogStore, relay RelayPublisher) *Notifier {
	return NewNotifier(logStore, relay, zerolog.Nop())
}
