package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/partyjam/partyjam/internal/guard"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/service"
)

// PublicHandler serves the unauthenticated guest surface. Every route
// carries a :username segment naming the host account; the handler
// resolves it to a tenant id and never leaks whether a missing or
// offline account exists.
type PublicHandler struct {
	Users    *repository.UserRepo
	Events   *service.EventService
	Requests *service.RequestService
	EventLog *repository.EventLogRepo
}

func NewPublicHandler(u *repository.UserRepo, ev *service.EventService,
	req *service.RequestService, log *repository.EventLogRepo) *PublicHandler {
	return &PublicHandler{Users: u, Events: ev, Requests: req, EventLog: log}
}

// ----- DTOs -----

type accessReq struct {
	PIN         string `json:"pin"`
	BypassToken string `json:"bypass_token"`
}
type submitReq struct {
	Track    string `json:"track"`
	Nickname string `json:"nickname"`
}

type publicEvent struct {
	Title              string `json:"title"`
	WelcomeMessage     string `json:"welcome_message"`
	Status             string `json:"status"`
	RequestsOpen       bool   `json:"requests_open"`
	DisplayEnabled     bool   `json:"display_enabled"`
	ShowQRCode         bool   `json:"show_qr_code"`
	RefreshIntervalSec int    `json:"refresh_interval_seconds"`
	AdminPresent       bool   `json:"admin_present"`
	Version            uint64 `json:"version"`
}

type updateEntry struct {
	ID        uint64          `json:"id"`
	Action    string          `json:"action"`
	Version   uint64          `json:"version"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type publicTrack struct {
	Track      string     `json:"track"`
	Artist     string     `json:"artist"`
	Album      string     `json:"album,omitempty"`
	DurationMS uint32     `json:"duration_ms,omitempty"`
	Nickname   string     `json:"nickname,omitempty"`
	Status     string     `json:"status"`
	QueuedAt   *time.Time `json:"queued_at,omitempty"`
}

func publicView(ev model.Event) publicEvent {
	return publicEvent{
		Title:              ev.Config.Title,
		WelcomeMessage:     ev.Config.WelcomeMessage,
		Status:             ev.Status,
		RequestsOpen:       ev.Config.RequestsPageEnabled,
		DisplayEnabled:     ev.Config.DisplayPageEnabled,
		ShowQRCode:         ev.Config.ShowQRCode,
		RefreshIntervalSec: ev.Config.RefreshIntervalSeconds,
		AdminPresent:       ev.AdminSessionActive,
		Version:            ev.Version,
	}
}

// tenantFor resolves the :username path segment. Unknown accounts
// come back as a generic 404.
func (h *PublicHandler) tenantFor(ctx context.Context, c echo.Context) (model.User, bool) {
	username := strings.ToLower(strings.TrimSpace(c.Param("username")))
	if username == "" {
		return model.User{}, false
	}
	u, err := h.Users.GetByUsername(ctx, username)
	if err != nil {
		return model.User{}, false
	}
	return u, true
}

// EventState returns the public view of the host's event. Guests
// poll this to learn the page toggles and refresh cadence.
func (h *PublicHandler) EventState(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tenant, ok := h.tenantFor(ctx, c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	ev, err := h.Events.GetOrCreate(ctx, tenant.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load event failed"})
	}
	return c.JSON(http.StatusOK, publicView(ev))
}

// Queue returns the display page's view of upcoming tracks. It is
// empty (not an error) while the display page is disabled.
func (h *PublicHandler) Queue(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tenant, ok := h.tenantFor(ctx, c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	ev, err := h.Events.GetOrCreate(ctx, tenant.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load event failed"})
	}
	if !ev.Config.DisplayPageEnabled {
		return c.JSON(http.StatusOK, echo.Map{"queue": []publicTrack{}, "display_enabled": false})
	}

	items, err := h.Requests.QueueSnapshot(ctx, tenant.ID, 25)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load queue failed"})
	}
	out := make([]publicTrack, 0, len(items))
	for _, sr := range items {
		out = append(out, publicTrack{
			Track:      sr.TrackName,
			Artist:     sr.ArtistName,
			Album:      sr.AlbumName,
			DurationMS: sr.DurationMS,
			Nickname:   sr.RequesterNickname,
			Status:     sr.Status,
			QueuedAt:   sr.ApprovedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"queue": out, "display_enabled": true})
}

// VerifyAccess checks a PIN or bypass token for entry to the request
// page. Failures are uniformly 401 regardless of cause.
func (h *PublicHandler) VerifyAccess(c echo.Context) error {
	var req accessReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tenant, ok := h.tenantFor(ctx, c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	grant, err := h.Events.VerifyAccess(ctx, tenant.ID,
		strings.TrimSpace(req.PIN), strings.TrimSpace(req.BypassToken))
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "access denied"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"granted": true,
		"method":  grant.Method,
		"event":   publicView(grant.Event),
	})
}

// Submit accepts a guest song request.
func (h *PublicHandler) Submit(c echo.Context) error {
	var req submitReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	tenant, ok := h.tenantFor(ctx, c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}

	sr, err := h.Requests.Submit(ctx, tenant, req.Track, req.Nickname, c.RealIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, service.ErrRequestsClosed):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "requests are closed"})
		case errors.Is(err, guard.ErrCooldown), errors.Is(err, guard.ErrRateLimited):
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": err.Error()})
		case errors.Is(err, service.ErrDuplicateTrack):
			return c.JSON(http.StatusConflict, echo.Map{"error": "track already requested"})
		case errors.Is(err, service.ErrTrackNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "track not found"})
		case errors.Is(err, service.ErrProviderNotConnected),
			errors.Is(err, service.ErrProviderUnavailable):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "music service unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "submit failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id":     sr.ID,
		"track":  sr.TrackName,
		"artist": sr.ArtistName,
		"status": sr.Status,
	})
}

// Updates is the polling fallback for clients without a relay
// connection. The guest passes the last event id it has seen and
// receives everything newer, oldest first.
func (h *PublicHandler) Updates(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tenant, ok := h.tenantFor(ctx, c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	since := uint64(0)
	if s := c.QueryParam("since"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "since must be a number"})
		}
		since = n
	}

	entries, err := h.EventLog.ListSince(ctx, tenant.ID, since, 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load updates failed"})
	}
	out := make([]updateEntry, 0, len(entries))
	cursor := since
	for _, e := range entries {
		out = append(out, updateEntry{
			ID:        e.ID,
			Action:    e.Action,
			Version:   e.Version,
			Payload:   e.Payload,
			Timestamp: e.CreatedAt,
		})
		cursor = e.ID
	}
	return c.JSON(http.StatusOK, echo.Map{"events": out, "cursor": cursor})
}
