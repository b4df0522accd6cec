package spotify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
)

type memTokenStore struct {
	rows map[uint64]model.SpotifyToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{rows: make(map[uint64]model.SpotifyToken)}
}

func (s *memTokenStore) Get(_ context.Context, userID uint64) (model.SpotifyToken, error) {
	tok, ok := s.rows[userID]
	if !ok {
		return model.SpotifyToken{}, repository.ErrNotFound
	}
	return tok, nil
}

func (s *memTokenStore) Upsert(_ context.Context, userID uint64, accessToken, refreshToken, scope string, expiresAt time.Time) error {
	s.rows[userID] = model.SpotifyToken{
		UserID: userID, AccessToken: accessToken, RefreshToken: refreshToken,
		Scope: scope, ExpiresAt: expiresAt,
	}
	return nil
}

func (s *memTokenStore) Delete(_ context.Context, userID uint64) error {
	delete(s.rows, userID)
	return nil
}

type stubRefresher struct {
	ts    TokenSet
	err   error
	calls int
}

func (r *stubRefresher) Refresh(context.Context, string) (TokenSet, error) {
	r.calls++
	if r.err != nil {
		return TokenSet{}, r.err
	}
	return r.ts, nil
}

func TestAccessTokenFreshTokenSkipsRefresh(t *testing.T) {
	store := newMemTokenStore()
	ref := &stubRefresher{}
	m := NewTokenManager(store, ref, time.Minute, zerolog.Nop())

	require.NoError(t, store.Upsert(context.Background(), 7, "at-fresh", "rt", "", time.Now().Add(time.Hour)))

	tok, err := m.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "at-fresh", tok)
	assert.Zero(t, ref.calls)
}

func TestAccessTokenRefreshesWithinMargin(t *testing.T) {
	store := newMemTokenStore()
	ref := &stubRefresher{ts: TokenSet{
		AccessToken: "at-new", RefreshToken: "rt-new",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	m := NewTokenManager(store, ref, time.Minute, zerolog.Nop())

	// Expires in 30s, inside the one-minute margin.
	require.NoError(t, store.Upsert(context.Background(), 7, "at-stale", "rt-old", "", time.Now().Add(30*time.Second)))

	tok, err := m.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)
	assert.Equal(t, 1, ref.calls)

	// The rotated set is persisted; the follow-up read needs no call.
	tok, err = m.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, "rt-new", store.rows[7].RefreshToken)
}

func TestAccessTokenNotConnected(t *testing.T) {
	m := NewTokenManager(newMemTokenStore(), &stubRefresher{}, time.Minute, zerolog.Nop())
	_, err := m.AccessToken(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAccessTokenRefreshRevoked(t *testing.T) {
	store := newMemTokenStore()
	ref := &stubRefresher{err: ErrUnauthorized}
	m := NewTokenManager(store, ref, time.Minute, zerolog.Nop())
	require.NoError(t, store.Upsert(context.Background(), 7, "at", "rt", "", time.Now().Add(-time.Minute)))

	_, err := m.AccessToken(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDisconnect(t *testing.T) {
	store := newMemTokenStore()
	m := NewTokenManager(store, &stubRefresher{}, time.Minute, zerolog.Nop())
	require.NoError(t, m.Store(context.Background(), 7, TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}))

	connected, err := m.IsConnected(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, connected)

	require.NoError(t, m.Disconnect(context.Background(), 7))
	connected, err = m.IsConnected(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, connected)

	_, err = m.AccessToken(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := model.SpotifyToken{ExpiresAt: now.Add(2 * time.Minute)}
	assert.False(t, tok.ExpiresWithin(now, time.Minute))
	assert.True(t, tok.ExpiresWithin(now, 3*time.Minute))
	assert.True(t, tok.ExpiresWithin(now.Add(5*time.Minute), time.Minute))
}
