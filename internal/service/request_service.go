package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/guard"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/monitoring"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/spotify"
	"github.com/partyjam/partyjam/internal/utils"
)

// Duplicate submissions of one track are suppressed while a matching
// request from the last half hour is still pending, approved or
// queued. Played requests older than the retention window are swept.
const (
	dedupWindow      = 30 * time.Minute
	DefaultRetention = time.Hour
)

// RequestStore is the persistence surface of the lifecycle manager;
// satisfied by repository.RequestRepo.
type RequestStore interface {
	Create(ctx context.Context, sr model.SongRequest) (model.SongRequest, error)
	GetByIDForTenant(ctx context.Context, id, userID uint64) (model.SongRequest, error)
	ListByTenant(ctx context.Context, userID uint64, status string, limit, offset int) ([]model.SongRequest, error)
	ListQueueSnapshot(ctx context.Context, userID uint64, limit int) ([]model.SongRequest, error)
	SetStatus(ctx context.Context, id, userID uint64, status string) error
	FindRecentDuplicate(ctx context.Context, userID uint64, trackURI string, since time.Time) (model.SongRequest, error)
	MarkPlayedByTrack(ctx context.Context, userID uint64, trackURI, trackName, artistName string) ([]model.SongRequest, error)
	DeletePlayedBefore(ctx context.Context, userID uint64, cutoff time.Time) ([]model.SongRequest, error)
	Delete(ctx context.Context, id, userID uint64) error
}

// TokenProvider yields valid bearer tokens; satisfied by
// spotify.TokenManager.
type TokenProvider interface {
	AccessToken(ctx context.Context, userID uint64) (string, error)
}

// ProviderClient is the slice of the Spotify client the lifecycle
// manager calls.
type ProviderClient interface {
	ResolveTrack(ctx context.Context, token, ref string) (spotify.Track, error)
	AddToQueue(ctx context.Context, token, trackURI string) error
}

// RequestService owns the song-request lifecycle: guarded guest
// submission, admin review, provider queue admission (including
// replay), playback reconciliation and retention cleanup. All
// operations are tenant-scoped.
type RequestService struct {
	requests RequestStore
	events   EventStore
	guard    guard.SubmissionGuard
	tokens   TokenProvider
	provider ProviderClient
	conn     *spotify.ConnTracker
	notifier *Notifier
	ipSalt   string
	log      zerolog.Logger
	now      func() time.Time
}

func NewRequestService(requests RequestStore, events EventStore, g guard.SubmissionGuard,
	tokens TokenProvider, provider ProviderClient, conn *spotify.ConnTracker,
	notifier *Notifier, ipSalt string, log zerolog.Logger) *RequestService {
	return &RequestService{
		requests: requests,
		events:   events,
		guard:    g,
		tokens:   tokens,
		provider: provider,
		conn:     conn,
		notifier: notifier,
		ipSalt:   ipSalt,
		log:      log,
		now:      time.Now,
	}
}

// mapProviderErr folds Spotify client errors into the service error
// taxonomy. Transient and rate-limit failures become
// ErrProviderUnavailable; a revoked grant or missing connection tells
// the admin to reconnect.
func mapProviderErr(err error) error {
	switch {
	case errors.Is(err, spotify.ErrNotFound):
		return ErrTrackNotFound
	case errors.Is(err, spotify.ErrNotConnected), errors.Is(err, spotify.ErrUnauthorized):
		return ErrProviderNotConnected
	case errors.Is(err, spotify.ErrRateLimited), errors.Is(err, spotify.ErrUnavailable):
		return ErrProviderUnavailable
	default:
		return err
	}
}

// Submit admits one guest submission: visibility gate, rate/cooldown
// guard, track resolution, duplicate suppression, then insert. The
// request starts PENDING, or APPROVED when the host enabled
// auto-approve.
func (s *RequestService) Submit(ctx context.Context, tenant model.User, trackRef, nickname, clientIP string) (model.SongRequest, error) {
	trackRef = strings.TrimSpace(trackRef)
	if trackRef == "" {
		return model.SongRequest{}, fmt.Errorf("%w: track required", ErrValidation)
	}
	nickname = strings.TrimSpace(nickname)
	if len(nickname) > 64 {
		nickname = nickname[:64]
	}

	ev, err := s.events.GetByTenant(ctx, tenant.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SongRequest{}, ErrRequestsClosed
		}
		return model.SongRequest{}, err
	}
	if !ev.Config.RequestsPageEnabled {
		return model.SongRequest{}, ErrRequestsClosed
	}

	ipHash := utils.HashSubmitterIP(s.ipSalt, clientIP)
	limits := guard.Limits{
		MaxPerWindow: ev.Config.MaxRequestsPerHour,
		Cooldown:     time.Duration(ev.Config.CooldownSeconds) * time.Second,
	}
	if err := s.guard.Allow(tenant.ID, ipHash, limits); err != nil {
		monitoring.RequestsSubmitted.WithLabelValues("rate_limited").Inc()
		return model.SongRequest{}, err
	}

	if !s.conn.Allowed(tenant.ID) {
		monitoring.RequestsSubmitted.WithLabelValues("provider_unavailable").Inc()
		return model.SongRequest{}, ErrProviderUnavailable
	}
	token, err := s.tokens.AccessToken(ctx, tenant.ID)
	if err != nil {
		monitoring.RequestsSubmitted.WithLabelValues("provider_unavailable").Inc()
		return model.SongRequest{}, mapProviderErr(err)
	}
	track, err := s.provider.ResolveTrack(ctx, token, trackRef)
	if err != nil {
		if errors.Is(err, spotify.ErrNotFound) {
			monitoring.RequestsSubmitted.WithLabelValues("track_not_found").Inc()
			return model.SongRequest{}, ErrTrackNotFound
		}
		s.conn.Failure(tenant.ID, err)
		monitoring.RequestsSubmitted.WithLabelValues("provider_unavailable").Inc()
		return model.SongRequest{}, mapProviderErr(err)
	}
	s.conn.Success(tenant.ID)

	if _, err := s.requests.FindRecentDuplicate(ctx, tenant.ID, track.URI, s.now().UTC().Add(-dedupWindow)); err == nil {
		monitoring.RequestsSubmitted.WithLabelValues("duplicate").Inc()
		return model.SongRequest{}, ErrDuplicateTrack
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.SongRequest{}, err
	}

	sr := model.SongRequest{
		UserID:            tenant.ID,
		TrackURI:          track.URI,
		TrackName:         track.Name,
		ArtistName:        track.Artist,
		AlbumName:         track.Album,
		DurationMS:        track.DurationMS,
		RequesterNickname: nickname,
		RequesterIPHash:   ipHash,
		Status:            model.RequestStatusPending,
	}
	if ev.Config.AutoApprove {
		sr.Status = model.RequestStatusApproved
		t := s.now().UTC()
		sr.ApprovedAt = &t
	}
	stored, err := s.requests.Create(ctx, sr)
	if err != nil {
		return model.SongRequest{}, err
	}
	monitoring.RequestsSubmitted.WithLabelValues("accepted").Inc()

	s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
		queue.ActionRequestSubmitted, requestDescriptor(stored))
	if stored.Status == model.RequestStatusApproved {
		s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
			queue.ActionRequestApproved, requestDescriptor(stored))
	}
	return stored, nil
}

// Review applies an admin approve/reject decision. Re-applying the
// decision a request already carries is a no-op success; any other
// transition from a non-pending state is rejected.
func (s *RequestService) Review(ctx context.Context, tenant model.User, requestID uint64, approve bool) (model.SongRequest, error) {
	sr, err := s.requests.GetByIDForTenant(ctx, requestID, tenant.ID)
	if err != nil {
		return model.SongRequest{}, err
	}
	target := model.RequestStatusRejected
	action := queue.ActionRequestRejected
	decision := "reject"
	if approve {
		target = model.RequestStatusApproved
		action = queue.ActionRequestApproved
		decision = "approve"
	}
	if sr.Status == target {
		return sr, nil // idempotent re-application
	}
	if sr.Status != model.RequestStatusPending {
		return model.SongRequest{}, fmt.Errorf("%w: request is %s", ErrInvalidTransition, sr.Status)
	}
	if err := s.requests.SetStatus(ctx, requestID, tenant.ID, target); err != nil {
		return model.SongRequest{}, err
	}
	monitoring.RequestsReviewed.WithLabelValues(decision).Inc()

	sr, err = s.requests.GetByIDForTenant(ctx, requestID, tenant.ID)
	if err != nil {
		return model.SongRequest{}, err
	}
	if ev, everr := s.events.GetByTenant(ctx, tenant.ID); everr == nil {
		s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version, action, requestDescriptor(sr))
	}
	return sr, nil
}

// EnqueueToProvider adds the request's track to the tenant's live
// play queue. Replay is deliberately allowed for any status: the
// first successful enqueue of a pending/approved request moves it to
// QUEUED, while replaying a played or rejected request leaves the
// stored status untouched; stored status does not track live queue
// membership. Provider failure is reported without rolling back any
// local state.
func (s *RequestService) EnqueueToProvider(ctx context.Context, tenant model.User, requestID uint64) (model.SongRequest, error) {
	sr, err := s.requests.GetByIDForTenant(ctx, requestID, tenant.ID)
	if err != nil {
		return model.SongRequest{}, err
	}
	if !s.conn.Allowed(tenant.ID) {
		return model.SongRequest{}, ErrProviderUnavailable
	}
	token, err := s.tokens.AccessToken(ctx, tenant.ID)
	if err != nil {
		s.conn.Failure(tenant.ID, err)
		return model.SongRequest{}, mapProviderErr(err)
	}
	if err := s.provider.AddToQueue(ctx, token, sr.TrackURI); err != nil {
		s.conn.Failure(tenant.ID, err)
		return model.SongRequest{}, mapProviderErr(err)
	}
	s.conn.Success(tenant.ID)

	if sr.Status == model.RequestStatusPending || sr.Status == model.RequestStatusApproved {
		if err := s.requests.SetStatus(ctx, requestID, tenant.ID, model.RequestStatusQueued); err != nil {
			s.log.Error().Err(err).Uint64("request", requestID).Msg("mark queued failed")
		} else {
			sr.Status = model.RequestStatusQueued
			if ev, everr := s.events.GetByTenant(ctx, tenant.ID); everr == nil {
				s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
					queue.ActionRequestQueued, requestDescriptor(sr))
			}
		}
	}
	return sr, nil
}

// ReconcileAgainstPlayback matches the currently playing track
// against the tenant's approved requests and marks every match
// played. All approved duplicates of the playing track are marked at
// once; the host approving one song for two requesters sees both
// satisfied by a single play.
func (s *RequestService) ReconcileAgainstPlayback(ctx context.Context, tenant model.User, playing spotify.Track) ([]model.SongRequest, error) {
	played, err := s.requests.MarkPlayedByTrack(ctx, tenant.ID, playing.URI, playing.Name, playing.Artist)
	if err != nil {
		return played, err
	}
	if len(played) == 0 {
		return played, nil
	}
	ev, everr := s.events.GetByTenant(ctx, tenant.ID)
	for _, sr := range played {
		s.log.Info().Uint64("tenant", tenant.ID).Uint64("request", sr.ID).
			Str("track", sr.TrackName).Msg("request reconciled as played")
		if everr == nil {
			s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
				queue.ActionRequestPlayed, requestDescriptor(sr))
		}
	}
	return played, nil
}

// CleanupPlayed deletes played requests older than the retention
// window and returns them for audit logging. Running it twice in a
// row deletes nothing new.
func (s *RequestService) CleanupPlayed(ctx context.Context, tenant model.User, retention time.Duration) ([]model.SongRequest, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	deleted, err := s.requests.DeletePlayedBefore(ctx, tenant.ID, s.now().UTC().Add(-retention))
	if err != nil {
		return deleted, err
	}
	if len(deleted) > 0 {
		s.log.Info().Uint64("tenant", tenant.ID).Int("deleted", len(deleted)).Msg("played requests cleaned up")
		if ev, everr := s.events.GetByTenant(ctx, tenant.ID); everr == nil {
			s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
				queue.ActionRequestDeleted, map[string]any{"deleted": len(deleted)})
		}
	}
	return deleted, nil
}

// Delete removes one request outright (admin housekeeping).
func (s *RequestService) Delete(ctx context.Context, tenant model.User, requestID uint64) error {
	if err := s.requests.Delete(ctx, requestID, tenant.ID); err != nil {
		return err
	}
	if ev, everr := s.events.GetByTenant(ctx, tenant.ID); everr == nil {
		s.notifier.Emit(ctx, tenant.ID, tenant.Username, ev.ID, ev.Version,
			queue.ActionRequestDeleted, map[string]any{"id": requestID})
	}
	return nil
}

// List returns the tenant's requests with optional status filter and
// pagination.
func (s *RequestService) List(ctx context.Context, tenantID uint64, status string, limit, offset int) ([]model.SongRequest, error) {
	if status != "" {
		status = strings.ToUpper(status)
		if !model.ValidRequestStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.requests.ListByTenant(ctx, tenantID, status, limit, offset)
}

// QueueSnapshot returns the upcoming tracks for the public display
// page.
func (s *RequestService) QueueSnapshot(ctx context.Context, tenantID uint64, limit int) ([]model.SongRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return s.requests.ListQueueSnapshot(ctx, tenantID, limit)
}

func requestDescriptor(sr model.SongRequest) map[string]any {
	return map[string]any{
		"id":       sr.ID,
		"track":    sr.TrackName,
		"artist":   sr.ArtistName,
		"uri":      sr.TrackURI,
		"status":   sr.Status,
		"nickname": sr.RequesterNickname,
	}
}
