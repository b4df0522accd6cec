package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/queue"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/utils"
)

// Default credential lifetimes. PINs are short-lived party secrets;
// bypass-token validity is chosen by the host per issuance.
const (
	pinTTL           = 12 * time.Hour
	maxBypassHours   = 24 * 7
	endEventAttempts = 3
)

// EventStore is the persistence surface of the state machine;
// satisfied by repository.EventRepo.
type EventStore interface {
	GetByTenant(ctx context.Context, userID uint64) (model.Event, error)
	Create(ctx context.Context, userID uint64, cfg model.EventConfig) (model.Event, error)
	UpdateVersioned(ctx context.Context, ev model.Event, expectedVersion uint64) (model.Event, error)
	SetAdminSession(ctx context.Context, userID uint64, active bool) error
}

// CredentialStore is satisfied by repository.CredentialRepo.
type CredentialStore interface {
	Issue(ctx context.Context, eventID uint64, kind, secretHash string, usesRemaining *int, expiresAt time.Time) (uint64, error)
	GetActiveByHash(ctx context.Context, eventID uint64, secretHash string) (model.AccessCredential, error)
	ConsumeUse(ctx context.Context, id uint64) error
	DeactivateAll(ctx context.Context, eventID uint64) error
}

// RequestPurger is the slice of the request store the state machine
// needs when an event ends.
type RequestPurger interface {
	PurgePending(ctx context.Context, userID uint64) (int64, error)
}

// EventService owns the per-tenant event state machine: status
// transitions, page flags, the optimistic-concurrency contract, and
// PIN/bypass-token issuance and verification.
type EventService struct {
	events   EventStore
	creds    CredentialStore
	requests RequestPurger
	notifier *Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewEventService(events EventStore, creds CredentialStore, requests RequestPurger, notifier *Notifier, log zerolog.Logger) *EventService {
	return &EventService{
		events:   events,
		creds:    creds,
		requests: requests,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// GetOrCreate returns the tenant's event, creating it OFFLINE with
// both pages disabled on first access. A concurrent creator losing
// the unique-key race falls back to reading the winner's row.
func (s *EventService) GetOrCreate(ctx context.Context, tenantID uint64) (model.Event, error) {
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Event{}, err
	}
	ev, err = s.events.Create(ctx, tenantID, model.DefaultEventConfig())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return s.events.GetByTenant(ctx, tenantID)
		}
		return model.Event{}, err
	}
	return ev, nil
}

// EventPatch carries the fields an admin may change. Nil pointers
// leave the current value untouched.
type EventPatch struct {
	Status                 *string
	RequestsPageEnabled    *bool
	DisplayPageEnabled     *bool
	Title                  *string
	WelcomeMessage         *string
	ShowQRCode             *bool
	RefreshIntervalSeconds *int
	MaxRequestsPerHour     *int
	CooldownSeconds        *int
	AutoApprove            *bool
}

func applyPatch(ev *model.Event, p EventPatch) error {
	if p.Status != nil {
		st := strings.ToUpper(strings.TrimSpace(*p.Status))
		if !model.ValidEventStatus(st) {
			return fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
		}
		ev.Status = st
	}
	if p.RequestsPageEnabled != nil {
		ev.Config.RequestsPageEnabled = *p.RequestsPageEnabled
	}
	if p.DisplayPageEnabled != nil {
		ev.Config.DisplayPageEnabled = *p.DisplayPageEnabled
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if len(t) > 120 {
			return fmt.Errorf("%w: title too long", ErrValidation)
		}
		ev.Config.Title = t
	}
	if p.WelcomeMessage != nil {
		if len(*p.WelcomeMessage) > 500 {
			return fmt.Errorf("%w: welcome message too long", ErrValidation)
		}
		ev.Config.WelcomeMessage = *p.WelcomeMessage
	}
	if p.ShowQRCode != nil {
		ev.Config.ShowQRCode = *p.ShowQRCode
	}
	if p.RefreshIntervalSeconds != nil {
		if *p.RefreshIntervalSeconds < 5 || *p.RefreshIntervalSeconds > 300 {
			return fmt.Errorf("%w: refresh interval out of range", ErrValidation)
		}
		ev.Config.RefreshIntervalSeconds = *p.RefreshIntervalSeconds
	}
	if p.MaxRequestsPerHour != nil {
		if *p.MaxRequestsPerHour < 1 || *p.MaxRequestsPerHour > 100 {
			return fmt.Errorf("%w: max requests per hour out of range", ErrValidation)
		}
		ev.Config.MaxRequestsPerHour = *p.MaxRequestsPerHour
	}
	if p.CooldownSeconds != nil {
		if *p.CooldownSeconds < 0 || *p.CooldownSeconds > 3600 {
			return fmt.Errorf("%w: cooldown out of range", ErrValidation)
		}
		ev.Config.CooldownSeconds = *p.CooldownSeconds
	}
	if p.AutoApprove != nil {
		ev.Config.AutoApprove = *p.AutoApprove
	}
	// Invariant: an offline event has no reachable public pages.
	if ev.Status == model.EventStatusOffline {
		ev.Config.RequestsPageEnabled = false
		ev.Config.DisplayPageEnabled = false
	}
	return nil
}

// Update applies a validated patch guarded by the expected version.
// A stale version yields repository.ErrVersionConflict and the caller
// must re-read and retry; the winning write increments the version by
// exactly one and fans out event.updated.
func (s *EventService) Update(ctx context.Context, tenantID uint64, tenantUsername string, patch EventPatch, expectedVersion uint64) (model.Event, error) {
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		return model.Event{}, err
	}
	if err := applyPatch(&ev, patch); err != nil {
		return model.Event{}, err
	}
	updated, err := s.events.UpdateVersioned(ctx, ev, expectedVersion)
	if err != nil {
		return model.Event{}, err
	}
	s.notifier.Emit(ctx, tenantID, tenantUsername, updated.ID, updated.Version,
		queue.ActionEventUpdated, eventDescriptor(updated))
	return updated, nil
}

// SetPageEnabled toggles one public page under the same versioned
// write discipline. Enabling a page on an offline event is rejected;
// flipping flags does not bring an event online.
func (s *EventService) SetPageEnabled(ctx context.Context, tenantID, expectedVersion uint64, tenantUsername, page string, enabled bool) (model.Event, error) {
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		return model.Event{}, err
	}
	if enabled && ev.Status == model.EventStatusOffline {
		return model.Event{}, fmt.Errorf("%w: event is offline", ErrValidation)
	}
	switch page {
	case "requests":
		ev.Config.RequestsPageEnabled = enabled
	case "display":
		ev.Config.DisplayPageEnabled = enabled
	default:
		return model.Event{}, fmt.Errorf("%w: unknown page %q", ErrValidation, page)
	}
	updated, err := s.events.UpdateVersioned(ctx, ev, expectedVersion)
	if err != nil {
		return model.Event{}, err
	}
	s.notifier.Emit(ctx, tenantID, tenantUsername, updated.ID, updated.Version,
		queue.ActionPageToggled, map[string]any{"page": page, "enabled": enabled})
	return updated, nil
}

// IssuePin replaces the event's active PIN and returns the plaintext
// exactly once; only the hash is stored.
func (s *EventService) IssuePin(ctx context.Context, tenantID uint64) (pin string, expiresAt time.Time, err error) {
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", time.Time{}, err
	}
	pin, err = utils.NewPIN()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt = s.now().UTC().Add(pinTTL)
	if _, err = s.creds.Issue(ctx, ev.ID, model.CredentialKindPIN, utils.HashSecret(pin), nil, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return pin, expiresAt, nil
}

// IssueBypassToken replaces the event's active bypass token.
// usesRemaining == 0 means unlimited uses until expiry.
func (s *EventService) IssueBypassToken(ctx context.Context, tenantID uint64, usesRemaining, hoursValid int) (token string, expiresAt time.Time, err error) {
	if hoursValid < 1 || hoursValid > maxBypassHours {
		return "", time.Time{}, fmt.Errorf("%w: hours out of range", ErrValidation)
	}
	if usesRemaining < 0 {
		return "", time.Time{}, fmt.Errorf("%w: negative uses", ErrValidation)
	}
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = utils.NewBypassToken()
	if err != nil {
		return "", time.Time{}, err
	}
	var uses *int
	if usesRemaining > 0 {
		uses = &usesRemaining
	}
	expiresAt = s.now().UTC().Add(time.Duration(hoursValid) * time.Hour)
	if _, err = s.creds.Issue(ctx, ev.ID, model.CredentialKindBypass, utils.HashSecret(token), uses, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// AccessGrant describes a successful public access verification.
type AccessGrant struct {
	Event  model.Event
	Method string // "pin" or "bypass_token"
}

// VerifyAccess checks a presented PIN or bypass token against the
// tenant's event. It fails closed: inactive or expired credentials
// are rejected even when the secret matches, and an offline event
// admits nobody. Bypass-token success consumes one use when the
// credential is use-limited.
func (s *EventService) VerifyAccess(ctx context.Context, tenantID uint64, pin, bypassToken string) (AccessGrant, error) {
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AccessGrant{}, ErrUnauthorizedAccess
		}
		return AccessGrant{}, err
	}
	if ev.Status == model.EventStatusOffline {
		return AccessGrant{}, ErrUnauthorizedAccess
	}

	var (
		secret string
		method string
	)
	switch {
	case pin != "":
		secret, method = pin, "pin"
	case bypassToken != "":
		secret, method = bypassToken, "bypass_token"
	default:
		return AccessGrant{}, fmt.Errorf("%w: pin or bypass_token required", ErrValidation)
	}

	cred, err := s.creds.GetActiveByHash(ctx, ev.ID, utils.HashSecret(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AccessGrant{}, ErrUnauthorizedAccess
		}
		return AccessGrant{}, err
	}
	if cred.Expired(s.now().UTC()) {
		return AccessGrant{}, ErrUnauthorizedAccess
	}
	if method == "bypass_token" && cred.UsesRemaining != nil {
		if *cred.UsesRemaining <= 0 {
			return AccessGrant{}, ErrUnauthorizedAccess
		}
		if err := s.creds.ConsumeUse(ctx, cred.ID); err != nil {
			s.log.Error().Err(err).Uint64("credential", cred.ID).Msg("consume bypass use failed")
		}
	}
	return AccessGrant{Event: ev, Method: method}, nil
}

// MarkAdminSession records admin login/logout presence and fans out
// the corresponding action.
func (s *EventService) MarkAdminSession(ctx context.Context, tenantID uint64, tenantUsername string, active bool) {
	if err := s.events.SetAdminSession(ctx, tenantID, active); err != nil {
		s.log.Error().Err(err).Uint64("tenant", tenantID).Msg("set admin session failed")
		return
	}
	ev, err := s.events.GetByTenant(ctx, tenantID)
	if err != nil {
		return
	}
	action := queue.ActionAdminLogin
	if !active {
		action = queue.ActionAdminLogout
	}
	s.notifier.Emit(ctx, tenantID, tenantUsername, ev.ID, ev.Version, action, nil)
}

// EndEvent resets the event to OFFLINE with both pages disabled,
// purges pending requests and revokes credentials. It is invoked on
// logout and by the explicit end-event action. The versioned write is
// retried a few times because ending an event must win against
// concurrent settings updates.
func (s *EventService) EndEvent(ctx context.Context, tenantID uint64, tenantUsername string) (model.Event, error) {
	var updated model.Event
	for attempt := 0; ; attempt++ {
		ev, err := s.events.GetByTenant(ctx, tenantID)
		if err != nil {
			return model.Event{}, err
		}
		ev.Status = model.EventStatusOffline
		ev.Config.RequestsPageEnabled = false
		ev.Config.DisplayPageEnabled = false
		ev.AdminSessionActive = false
		updated, err = s.events.UpdateVersioned(ctx, ev, ev.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= endEventAttempts {
			return model.Event{}, err
		}
	}

	if n, err := s.requests.PurgePending(ctx, tenantID); err != nil {
		s.log.Error().Err(err).Uint64("tenant", tenantID).Msg("purge pending requests failed")
	} else if n > 0 {
		s.log.Info().Uint64("tenant", tenantID).Int64("purged", n).Msg("pending requests purged")
	}
	if err := s.creds.DeactivateAll(ctx, updated.ID); err != nil {
		s.log.Error().Err(err).Uint64("tenant", tenantID).Msg("deactivate credentials failed")
	}

	s.notifier.Emit(ctx, tenantID, tenantUsername, updated.ID, updated.Version,
		queue.ActionEventUpdated, eventDescriptor(updated))
	return updated, nil
}

// eventDescriptor is the payload shape shared by event fan-outs and
// the public event endpoint.
func eventDescriptor(ev model.Event) map[string]any {
	return map[string]any{
		"status":  ev.Status,
		"version": ev.Version,
		"config":  ev.Config,
	}
}
