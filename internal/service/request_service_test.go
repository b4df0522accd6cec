package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyjam/partyjam/internal/guard"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/spotify"
)

type fakeRequestStore struct {
	rows   map[uint64]*model.SongRequest
	nextID uint64
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{rows: make(map[uint64]*model.SongRequest), nextID: 1}
}

func (f *fakeRequestStore) Create(_ context.Context, sr model.SongRequest) (model.SongRequest, error) {
	sr.ID = f.nextID
	f.nextID++
	sr.CreatedAt = time.Now().UTC()
	f.rows[sr.ID] = &sr
	return sr, nil
}

func (f *fakeRequestStore) GetByIDForTenant(_ context.Context, id, userID uint64) (model.SongRequest, error) {
	sr, ok := f.rows[id]
	if !ok || sr.UserID != userID {
		return model.SongRequest{}, repository.ErrNotFound
	}
	return *sr, nil
}

func (f *fakeRequestStore) ListByTenant(_ context.Context, userID uint64, status string, limit, offset int) ([]model.SongRequest, error) {
	var out []model.SongRequest
	for _, sr := range f.rows {
		if sr.UserID == userID && (status == "" || sr.Status == status) {
			out = append(out, *sr)
		}
	}
	return out, nil
}

func (f *fakeRequestStore) ListQueueSnapshot(_ context.Context, userID uint64, limit int) ([]model.SongRequest, error) {
	var out []model.SongRequest
	for _, sr := range f.rows {
		if sr.UserID == userID && (sr.Status == model.RequestStatusApproved || sr.Status == model.RequestStatusQueued) {
			out = append(out, *sr)
		}
	}
	return out, nil
}

func (f *fakeRequestStore) SetStatus(_ context.Context, id, userID uint64, status string) error {
	sr, ok := f.rows[id]
	if !ok || sr.UserID != userID {
		return repository.ErrNotFound
	}
	sr.Status = status
	now := time.Now().UTC()
	switch status {
	case model.RequestStatusApproved:
		sr.ApprovedAt = &now
	case model.RequestStatusPlayed:
		sr.PlayedAt = &now
	}
	return nil
}

func (f *fakeRequestStore) FindRecentDuplicate(_ context.Context, userID uint64, trackURI string, since time.Time) (model.SongRequest, error) {
	for _, sr := range f.rows {
		if sr.UserID == userID && sr.TrackURI == trackURI &&
			sr.Status != model.RequestStatusRejected && sr.Status != model.RequestStatusPlayed &&
			sr.CreatedAt.After(since) {
			return *sr, nil
		}
	}
	return model.SongRequest{}, repository.ErrNotFound
}

func (f *fakeRequestStore) MarkPlayedByTrack(_ context.Context, userID uint64, trackURI, trackName, artistName string) ([]model.SongRequest, error) {
	var out []model.SongRequest
	now := time.Now().UTC()
	for _, sr := range f.rows {
		if sr.UserID != userID || sr.TrackURI != trackURI {
			continue
		}
		if sr.Status == model.RequestStatusApproved || sr.Status == model.RequestStatusQueued {
			sr.Status = model.RequestStatusPlayed
			sr.PlayedAt = &now
			out = append(out, *sr)
		}
	}
	return out, nil
}

func (f *fakeRequestStore) DeletePlayedBefore(_ context.Context, userID uint64, cutoff time.Time) ([]model.SongRequest, error) {
	var out []model.SongRequest
	for id, sr := range f.rows {
		if sr.UserID == userID && sr.Status == model.RequestStatusPlayed &&
			sr.PlayedAt != nil && sr.PlayedAt.Before(cutoff) {
			out = append(out, *sr)
			delete(f.rows, id)
		}
	}
	return out, nil
}

func (f *fakeRequestStore) Delete(_ context.Context, id, userID uint64) error {
	sr, ok := f.rows[id]
	if !ok || sr.UserID != userID {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(context.Context, uint64) (string, error) {
	return f.token, f.err
}

type fakeProvider struct {
	track      spotify.Track
	resolveErr error
	queueErr   error
	queued     []string
}

func (f *fakeProvider) ResolveTrack(_ context.Context, _, ref string) (spotify.Track, error) {
	if f.resolveErr != nil {
		return spotify.Track{}, f.resolveErr
	}
	return f.track, nil
}

func (f *fakeProvider) AddToQueue(_ context.Context, _, trackURI string) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	f.queued = append(f.queued, trackURI)
	return nil
}

type requestFixture struct {
	svc      *RequestService
	requests *fakeRequestStore
	events   *fakeEventStore
	provider *fakeProvider
	tokens   *fakeTokens
	conn     *spotify.ConnTracker
	logStore *fakeLogStore
	tenant   model.User
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()
	f := &requestFixture{
		requests: newFakeRequestStore(),
		events:   newFakeEventStore(),
		tokens:   &fakeTokens{token: "tok"},
		provider: &fakeProvider{track: spotify.Track{
			URI: "spotify:track:abc123", Name: "Levitating", Artist: "Dua Lipa",
			Album: "Future Nostalgia", DurationMS: 203000,
		}},
		conn:     spotify.NewConnTracker(time.Second, time.Minute),
		logStore: &fakeLogStore{},
		tenant:   model.User{ID: 7, Username: "dj-ada"},
	}
	f.svc = NewRequestService(f.requests, f.events, guard.NewMemoryGuard(time.Hour),
		f.tokens, f.provider, f.conn, newTestNotifier(f.logStore, nil), "pepper", zerolog.Nop())

	// Live event with the requests page open.
	ev, err := f.events.Create(context.Background(), f.tenant.ID, model.DefaultEventConfig())
	require.NoError(t, err)
	ev.Status = model.EventStatusLive
	ev.Config.RequestsPageEnabled = true
	_, err = f.events.UpdateVersioned(context.Background(), ev, ev.Version)
	require.NoError(t, err)
	return f
}

func (f *requestFixture) patchEvent(t *testing.T, mutate func(*model.Event)) {
	t.Helper()
	ev, err := f.events.GetByTenant(context.Background(), f.tenant.ID)
	require.NoError(t, err)
	mutate(&ev)
	_, err = f.events.UpdateVersioned(context.Background(), ev, ev.Version)
	require.NoError(t, err)
}

func TestSubmitStartsPending(t *testing.T) {
	f := newRequestFixture(t)

	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "ada", "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, sr.Status)
	assert.Equal(t, "spotify:track:abc123", sr.TrackURI)
	assert.Equal(t, "Levitating", sr.TrackName)
	assert.Equal(t, "ada", sr.RequesterNickname)
	assert.Nil(t, sr.ApprovedAt)
	assert.NotEqual(t, "203.0.113.9", sr.RequesterIPHash)
	assert.Equal(t, []string{queue.ActionRequestSubmitted}, f.logStore.actions())
}

func TestSubmitAutoApprove(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) { ev.Config.AutoApprove = true })

	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, sr.Status)
	require.NotNil(t, sr.ApprovedAt)
	assert.Equal(t, []string{queue.ActionRequestSubmitted, queue.ActionRequestApproved}, f.logStore.actions())
}

func TestSubmitRequestsClosed(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) { ev.Config.RequestsPageEnabled = false })

	_, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrRequestsClosed)

	// A tenant with no event row at all reads the same way.
	_, err = f.svc.Submit(context.Background(), model.User{ID: 99, Username: "ghost"}, "x", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrRequestsClosed)
}

func TestSubmitValidation(t *testing.T) {
	f := newRequestFixture(t)
	_, err := f.svc.Submit(context.Background(), f.tenant, "   ", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitGuardRejections(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) {
		ev.Config.MaxRequestsPerHour = 2
		ev.Config.CooldownSeconds = 30
	})

	uris := []string{"spotify:track:a1", "spotify:track:a2", "spotify:track:a3"}
	f.provider.track = spotify.Track{URI: uris[0], Name: "One", Artist: "A"}
	_, err := f.svc.Submit(context.Background(), f.tenant, "one", "", "203.0.113.9")
	require.NoError(t, err)

	// Immediate retry trips the cooldown before the budget.
	_, err = f.svc.Submit(context.Background(), f.tenant, "two", "", "203.0.113.9")
	assert.ErrorIs(t, err, guard.ErrCooldown)

	// A different guest is not affected.
	f.provider.track = spotify.Track{URI: uris[1], Name: "Two", Artist: "B"}
	_, err = f.svc.Submit(context.Background(), f.tenant, "two", "", "198.51.100.4")
	require.NoError(t, err)
}

func TestSubmitRateLimitAfterBudget(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) {
		ev.Config.MaxRequestsPerHour = 2
		ev.Config.CooldownSeconds = 0
	})

	for _, uri := range []string{"spotify:track:a1", "spotify:track:a2"} {
		f.provider.track = spotify.Track{URI: uri, Name: uri, Artist: "A"}
		_, err := f.svc.Submit(context.Background(), f.tenant, uri, "", "203.0.113.9")
		require.NoError(t, err)
	}
	_, err := f.svc.Submit(context.Background(), f.tenant, "three", "", "203.0.113.9")
	assert.ErrorIs(t, err, guard.ErrRateLimited)
}

func TestSubmitDuplicateTrack(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) { ev.Config.CooldownSeconds = 0 })

	_, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)

	// Another guest asking for the same track within the window.
	_, err = f.svc.Submit(context.Background(), f.tenant, "levitating", "", "198.51.100.4")
	assert.ErrorIs(t, err, ErrDuplicateTrack)
}

func TestSubmitTrackNotFound(t *testing.T) {
	f := newRequestFixture(t)
	f.provider.resolveErr = spotify.ErrNotFound

	_, err := f.svc.Submit(context.Background(), f.tenant, "gibberish", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrTrackNotFound)

	// A lookup miss is not a connectivity failure.
	state, _ := f.conn.State(f.tenant.ID)
	assert.Equal(t, spotify.ConnConnected, state)
}

func TestSubmitProviderFailureDegradesConnection(t *testing.T) {
	f := newRequestFixture(t)
	f.provider.resolveErr = spotify.ErrUnavailable

	_, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	state, _ := f.conn.State(f.tenant.ID)
	assert.Equal(t, spotify.ConnDegraded, state)

	// Backoff now short-circuits the next submission before the token
	// is even fetched.
	_, err = f.svc.Submit(context.Background(), f.tenant, "levitating", "", "198.51.100.4")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestSubmitTokenNotConnected(t *testing.T) {
	f := newRequestFixture(t)
	f.tokens.err = spotify.ErrNotConnected

	_, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	assert.ErrorIs(t, err, ErrProviderNotConnected)
}

func TestReviewApproveAndReject(t *testing.T) {
	f := newRequestFixture(t)
	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)

	approved, err := f.svc.Review(context.Background(), f.tenant, sr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	// Re-applying the same decision is a no-op success.
	again, err := f.svc.Review(context.Background(), f.tenant, sr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, again.Status)

	// Flipping the decision after the fact is not.
	_, err = f.svc.Review(context.Background(), f.tenant, sr.ID, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, f.logStore.actions(), queue.ActionRequestApproved)
}

func TestReviewUnknownRequest(t *testing.T) {
	f := newRequestFixture(t)
	_, err := f.svc.Review(context.Background(), f.tenant, 42, true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReviewIsTenantScoped(t *testing.T) {
	f := newRequestFixture(t)
	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)

	_, err = f.svc.Review(context.Background(), model.User{ID: 8, Username: "dj-bob"}, sr.ID, true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEnqueueMarksQueued(t *testing.T) {
	f := newRequestFixture(t)
	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), f.tenant, sr.ID, true)
	require.NoError(t, err)

	queued, err := f.svc.EnqueueToProvider(context.Background(), f.tenant, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusQueued, queued.Status)
	assert.Equal(t, []string{"spotify:track:abc123"}, f.provider.queued)
	assert.Contains(t, f.logStore.actions(), queue.ActionRequestQueued)
}

func TestEnqueueReplayKeepsStatus(t *testing.T) {
	f := newRequestFixture(t)
	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)
	require.NoError(t, f.requests.SetStatus(context.Background(), sr.ID, f.tenant.ID, model.RequestStatusPlayed))

	replayed, err := f.svc.EnqueueToProvider(context.Background(), f.tenant, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPlayed, replayed.Status)
	assert.Len(t, f.provider.queued, 1)
}

func TestEnqueueProviderFailure(t *testing.T) {
	f := newRequestFixture(t)
	sr, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "", "203.0.113.9")
	require.NoError(t, err)
	f.provider.queueErr = spotify.ErrNoActiveDevice

	_, err = f.svc.EnqueueToProvider(context.Background(), f.tenant, sr.ID)
	require.Error(t, err)
	got, err2 := f.requests.GetByIDForTenant(context.Background(), sr.ID, f.tenant.ID)
	require.NoError(t, err2)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestReconcileMarksAllMatches(t *testing.T) {
	f := newRequestFixture(t)
	f.patchEvent(t, func(ev *model.Event) {
		ev.Config.AutoApprove = true
		ev.Config.CooldownSeconds = 0
	})

	// Two guests requested the same song; the dedup window has lapsed
	// for the second, so both rows exist approved.
	a, err := f.svc.Submit(context.Background(), f.tenant, "levitating", "ada", "203.0.113.9")
	require.NoError(t, err)
	b, err := f.requests.Create(context.Background(), model.SongRequest{
		UserID: f.tenant.ID, TrackURI: a.TrackURI, TrackName: a.TrackName,
		ArtistName: a.ArtistName, Status: model.RequestStatusApproved,
	})
	require.NoError(t, err)

	played, err := f.svc.ReconcileAgainstPlayback(context.Background(), f.tenant, f.provider.track)
	require.NoError(t, err)
	require.Len(t, played, 2)
	ids := []uint64{played[0].ID, played[1].ID}
	assert.ElementsMatch(t, []uint64{a.ID, b.ID}, ids)
	for _, sr := range played {
		assert.Equal(t, model.RequestStatusPlayed, sr.Status)
		require.NotNil(t, sr.PlayedAt)
	}

	count := 0
	for _, action := range f.logStore.actions() {
		if action == queue.ActionRequestPlayed {
			count++
		}
	}
	assert.Equal(t, 2, count)

	// A second pass finds nothing left to mark.
	played, err = f.svc.ReconcileAgainstPlayback(context.Background(), f.tenant, f.provider.track)
	require.NoError(t, err)
	assert.Empty(t, played)
}

func TestCleanupPlayed(t *testing.T) {
	f := newRequestFixture(t)
	old := time.Now().UTC().Add(-2 * time.Hour)
	fresh := time.Now().UTC().Add(-5 * time.Minute)
	for _, playedAt := range []*time.Time{&old, &fresh} {
		sr, err := f.requests.Create(context.Background(), model.SongRequest{
			UserID: f.tenant.ID, TrackURI: "spotify:track:x", TrackName: "X",
			Status: model.RequestStatusPlayed,
		})
		require.NoError(t, err)
		f.requests.rows[sr.ID].PlayedAt = playedAt
	}

	deleted, err := f.svc.CleanupPlayed(context.Background(), f.tenant, 0)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)
	assert.Contains(t, f.logStore.actions(), queue.ActionRequestDeleted)

	// Idempotent: the fresh row survives a second sweep.
	deleted, err = f.svc.CleanupPlayed(context.Background(), f.tenant, 0)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestListValidatesStatus(t *testing.T) {
	f := newRequestFixture(t)
	_, err := f.svc.List(context.Background(), f.tenant.ID, "bogus", 0, 0)
	assert.ErrorIs(t, err, ErrValidation)

	// Lowercase filter values are accepted.
	_, err = f.svc.List(context.Background(), f.tenant.ID, "pending", 0, 0)
	assert.NoError(t, err)
}
