// Package playback runs per-tenant background loops that poll the
// Spotify playback state, reconcile it against approved requests and
// sweep expired data.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/monitoring"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/service"
	"github.com/partyjam/partyjam/internal/spotify"
)

const (
	// callTimeout bounds a single provider round trip inside a tick.
	callTimeout = 5 * time.Second
	// sweepEvery controls how often the retention sweep piggybacks
	// on the polling loop.
	sweepEvery = 5 * time.Minute
	// logRetention keeps the polling-fallback backlog bounded.
	logRetention = 24 * time.Hour
)

// TenantSource lists tenants that have a Spotify account connected;
// satisfied by repository.SpotifyTokenRepo.
type TenantSource interface {
	ConnectedTenantIDs(ctx context.Context) ([]uint64, error)
}

// UserSource resolves tenant identities; satisfied by
// repository.UserRepo.
type UserSource interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// EventSource reads the tenant's event row for notification context.
type EventSource interface {
	GetByTenant(ctx context.Context, userID uint64) (model.Event, error)
}

// LogSweeper trims old event-log rows; satisfied by
// repository.EventLogRepo.
type LogSweeper interface {
	DeleteBefore(ctx context.Context, userID uint64, cutoff time.Time) (int64, error)
}

// Lifecycle is the slice of the request service the loop drives.
type Lifecycle interface {
	ReconcileAgainstPlayback(ctx context.Context, tenant model.User, playing spotify.Track) ([]model.SongRequest, error)
	CleanupPlayed(ctx context.Context, tenant model.User, retention time.Duration) ([]model.SongRequest, error)
}

// PlaybackClient is the provider call the loop makes each tick.
type PlaybackClient interface {
	CurrentPlayback(ctx context.Context, token string) (*spotify.PlaybackState, error)
}

// Manager owns one polling goroutine per connected tenant. Loops are
// started at boot for every stored connection, started again when a
// tenant completes the OAuth flow, and stopped on disconnect.
type Manager struct {
	tenants   TenantSource
	users     UserSource
	events    EventSource
	eventLog  LogSweeper
	lifecycle Lifecycle
	tokens    service.TokenProvider
	client    PlaybackClient
	conn      *spotify.ConnTracker
	notifier  *service.Notifier
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	stops map[uint64]chan struct{}
	wg    sync.WaitGroup
}

func NewManager(tenants TenantSource, users UserSource, events EventSource, eventLog LogSweeper,
	lifecycle Lifecycle, tokens service.TokenProvider, client PlaybackClient,
	conn *spotify.ConnTracker, notifier *service.Notifier,
	interval, retention time.Duration, log zerolog.Logger) *Manager {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if retention <= 0 {
		retention = service.DefaultRetention
	}
	return &Manager{
		tenants:   tenants,
		users:     users,
		events:    events,
		eventLog:  eventLog,
		lifecycle: lifecycle,
		tokens:    tokens,
		client:    client,
		conn:      conn,
		notifier:  notifier,
		interval:  interval,
		retention: retention,
		log:       log,
		stops:     map[uint64]chan struct{}{},
	}
}

// Start launches a loop for every tenant with a stored Spotify
// connection. Called once at boot.
func (m *Manager) Start(ctx context.Context) error {
	ids, err := m.tenants.ConnectedTenantIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.StartTenant(id)
	}
	m.log.Info().Int("tenants", len(ids)).Msg("playback reconciler started")
	return nil
}

// StartTenant begins polling for one tenant. Idempotent while a loop
// is already running.
func (m *Manager) StartTenant(tenantID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.stops[tenantID]; running {
		return
	}
	stop := make(chan struct{})
	m.stops[tenantID] = stop
	m.wg.Add(1)
	go m.run(tenantID, stop)
}

// StopTenant halts the tenant's loop, used on Spotify disconnect.
func (m *Manager) StopTenant(tenantID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, running := m.stops[tenantID]; running {
		close(stop)
		delete(m.stops, tenantID)
	}
}

// Close stops every loop and waits for them to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, stop := range m.stops {
		close(stop)
		delete(m.stops, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(tenantID uint64, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	lastSweep := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		m.tick(tenantID)
		if time.Since(lastSweep) >= sweepEvery {
			m.sweep(tenantID)
			lastSweep = time.Now()
		}
	}
}

// tick performs one poll/reconcile cycle. Provider failures back off
// through the connection tracker rather than stopping the loop; only
// a removed connection ends it.
func (m *Manager) tick(tenantID uint64) {
	if !m.conn.Allowed(tenantID) {
		monitoring.ReconcilerTicks.WithLabelValues("backoff").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	tenant, err := m.users.GetByID(ctx, tenantID)
	if err != nil {
		m.log.Error().Err(err).Uint64("tenant", tenantID).Msg("tenant lookup failed")
		monitoring.ReconcilerTicks.WithLabelValues("error").Inc()
		return
	}

	token, err := m.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		if errors.Is(err, spotify.ErrNotConnected) {
			m.StopTenant(tenantID)
			monitoring.ReconcilerTicks.WithLabelValues("disconnected").Inc()
			return
		}
		m.conn.Failure(tenantID, err)
		m.noteFatal(tenant, err)
		monitoring.ReconcilerTicks.WithLabelValues("error").Inc()
		return
	}

	start := time.Now()
	state, err := m.client.CurrentPlayback(ctx, token)
	monitoring.ProviderCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.conn.Failure(tenantID, err)
		m.noteFatal(tenant, err)
		m.log.Warn().Err(err).Uint64("tenant", tenantID).Msg("playback poll failed")
		monitoring.ReconcilerTicks.WithLabelValues("error").Inc()
		return
	}
	m.conn.Success(tenantID)

	if state == nil || !state.IsPlaying {
		monitoring.ReconcilerTicks.WithLabelValues("idle").Inc()
		return
	}

	if _, err := m.lifecycle.ReconcileAgainstPlayback(ctx, tenant, state.Track); err != nil {
		m.log.Error().Err(err).Uint64("tenant", tenantID).Msg("reconcile failed")
	}
	if ev, err := m.events.GetByTenant(ctx, tenantID); err == nil {
		m.notifier.Emit(ctx, tenantID, tenant.Username, ev.ID, ev.Version,
			queue.ActionPlaybackUpdated, map[string]any{
				"track":       state.Track.Name,
				"artist":      state.Track.Artist,
				"uri":         state.Track.URI,
				"progress_ms": state.ProgressMS,
				"is_playing":  state.IsPlaying,
			})
	}
	monitoring.ReconcilerTicks.WithLabelValues("ok").Inc()
}

// noteFatal broadcasts a token-expired notice when the provider
// rejects the grant outright, so the admin console can prompt for
// reconnection.
func (m *Manager) noteFatal(tenant model.User, err error) {
	if !spotify.Fatal(err) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if ev, gerr := m.events.GetByTenant(ctx, tenant.ID); gerr == nil {
		m.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
			queue.ActionSpotifyTokenExpired, map[string]any{"error": err.Error()})
	}
}

// sweep applies retention: played requests past their window and
// event-log rows older than the polling-fallback horizon.
func (m *Manager) sweep(tenantID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	tenant, err := m.users.GetByID(ctx, tenantID)
	if err != nil {
		return
	}
	if _, err := m.lifecycle.CleanupPlayed(ctx, tenant, m.retention); err != nil {
		m.log.Error().Err(err).Uint64("tenant", tenantID).Msg("played cleanup failed")
	}
	if n, err := m.eventLog.DeleteBefore(ctx, tenantID, time.Now().UTC().Add(-logRetention)); err != nil {
		m.log.Error().Err(err).Uint64("tenant", tenantID).Msg("event log sweep failed")
	} else if n > 0 {
		m.log.Debug().Uint64("tenant", tenantID).Int64("rows", n).Msg("event log trimmed")
	}
}
