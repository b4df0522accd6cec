package spotify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
)

// ErrNotConnected is returned when a tenant has no stored token set.
var ErrNotConnected = errors.New("spotify: account not connected")

// TokenStore is the persistence surface the manager needs; satisfied
// by repository.SpotifyTokenRepo.
type TokenStore interface {
	Get(ctx context.Context, userID uint64) (model.SpotifyToken, error)
	Upsert(ctx context.Context, userID uint64, accessToken, refreshToken, scope string, expiresAt time.Time) error
	Delete(ctx context.Context, userID uint64) error
}

// Refresher performs the refresh grant; satisfied by Authenticator.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// TokenManager owns the per-tenant OAuth token lifecycle: cached
// reads while the token is fresh, refresh-before-expiry with a safety
// margin, and per-tenant serialization so two callers never race a
// refresh against a provider that rotates refresh tokens.
type TokenManager struct {
	store     TokenStore
	refresher Refresher
	margin    time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
	now   func() time.Time
}

// NewTokenManager builds a manager with the given refresh margin
// (how long before expiry a refresh is triggered).
func NewTokenManager(store TokenStore, refresher Refresher, margin time.Duration, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		store:     store,
		refresher: refresher,
		margin:    margin,
		log:       log,
		locks:     make(map[uint64]*sync.Mutex),
		now:       time.Now,
	}
}

func (m *TokenManager) tenantLock(userID uint64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// AccessToken returns a valid bearer token for the tenant, refreshing
// it first when expiry is within the margin. Concurrent callers for
// the same tenant serialize on a per-tenant lock; the second caller
// finds the refreshed row and returns without a second provider call.
func (m *TokenManager) AccessToken(ctx context.Context, userID uint64) (string, error) {
	l := m.tenantLock(userID)
	l.Lock()
	defer l.Unlock()

	tok, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}
	now := m.now().UTC()
	if !tok.ExpiresWithin(now, m.margin) {
		return tok.AccessToken, nil
	}

	ts, err := m.refresher.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			m.log.Warn().Uint64("tenant", userID).Msg("spotify refresh rejected, authorization revoked")
		}
		return "", err
	}
	if err := m.store.Upsert(ctx, userID, ts.AccessToken, ts.RefreshToken, ts.Scope, ts.ExpiresAt); err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// Store persists a freshly exchanged token set for the tenant.
func (m *TokenManager) Store(ctx context.Context, userID uint64, ts TokenSet) error {
	l := m.tenantLock(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.Upsert(ctx, userID, ts.AccessToken, ts.RefreshToken, ts.Scope, ts.ExpiresAt)
}

// Disconnect clears the tenant's stored token record.
func (m *TokenManager) Disconnect(ctx context.Context, userID uint64) error {
	l := m.tenantLock(userID)
	l.Lock()
	defer l.Unlock()
	return m.store.Delete(ctx, userID)
}

// IsConnected is a cheap existence+expiry check. It never triggers a
// refresh; a stale-but-refreshable record still counts as connected.
func (m *TokenManager) IsConnected(ctx context.Context, userID uint64) (bool, error) {
	_, err := m.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
