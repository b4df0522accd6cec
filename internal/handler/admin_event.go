package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/service"
)

// AdminEventHandler exposes the host console's event controls. All
// routes sit behind JWTAuth; the tenant id comes from the token, so
// one host can never address another host's event.
type AdminEventHandler struct {
	Events *service.EventService
}

func NewAdminEventHandler(ev *service.EventService) *AdminEventHandler {
	return &AdminEventHandler{Events: ev}
}

// ----- DTOs -----

type eventPatchReq struct {
	Version                uint64  `json:"version"`
	Status                 *string `json:"status"`
	Title                  *string `json:"title"`
	WelcomeMessage         *string `json:"welcome_message"`
	ShowQRCode             *bool   `json:"show_qr_code"`
	RefreshIntervalSeconds *int    `json:"refresh_interval_seconds"`
	MaxRequestsPerHour     *int    `json:"max_requests_per_hour"`
	CooldownSeconds        *int    `json:"cooldown_seconds"`
	AutoApprove            *bool   `json:"auto_approve"`
}

type pageToggleReq struct {
	Version uint64 `json:"version"`
	Enabled bool   `json:"enabled"`
}

type bypassTokenReq struct {
	Uses       int `json:"uses"`
	HoursValid int `json:"hours_valid"`
}

type eventResp struct {
	ID                 uint64            `json:"id"`
	Status             string            `json:"status"`
	Version            uint64            `json:"version"`
	AdminSessionActive bool              `json:"admin_session_active"`
	Config             model.EventConfig `json:"config"`
}

func toEventResp(ev model.Event) eventResp {
	return eventResp{
		ID:                 ev.ID,
		Status:             ev.Status,
		Version:            ev.Version,
		AdminSessionActive: ev.AdminSessionActive,
		Config:             ev.Config,
	}
}

// mapEventErr translates service errors shared by the event routes.
func mapEventErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrVersionConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "version conflict, reload and retry"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "event operation failed"})
}

// Get returns the tenant's event, creating it on first access.
func (h *AdminEventHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Events.GetOrCreate(ctx, middleware.UserID(c))
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// Patch applies a partial update guarded by the version the client
// last saw. A stale version is a 409; the client reloads and retries.
func (h *AdminEventHandler) Patch(c echo.Context) error {
	var req eventPatchReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	patch := service.EventPatch{
		Status:                 req.Status,
		Title:                  req.Title,
		WelcomeMessage:         req.WelcomeMessage,
		ShowQRCode:             req.ShowQRCode,
		RefreshIntervalSeconds: req.RefreshIntervalSeconds,
		MaxRequestsPerHour:     req.MaxRequestsPerHour,
		CooldownSeconds:        req.CooldownSeconds,
		AutoApprove:            req.AutoApprove,
	}
	ev, err := h.Events.Update(ctx, middleware.UserID(c), middleware.Username(c), patch, req.Version)
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// TogglePage enables or disables one public page. The :page segment
// is "requests" or "display".
func (h *AdminEventHandler) TogglePage(c echo.Context) error {
	var req pageToggleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Events.SetPageEnabled(ctx, middleware.UserID(c), req.Version,
		middleware.Username(c), c.Param("page"), req.Enabled)
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// IssuePin rotates the event PIN and returns the plaintext once.
func (h *AdminEventHandler) IssuePin(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	pin, exp, err := h.Events.IssuePin(ctx, middleware.UserID(c))
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"pin": pin, "expires": exp})
}

// IssueBypassToken mints a shareable access token, optionally
// use-limited. The plaintext appears only in this response.
func (h *AdminEventHandler) IssueBypassToken(c echo.Context) error {
	var req bypassTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.HoursValid == 0 {
		req.HoursValid = 24
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	token, exp, err := h.Events.IssueBypassToken(ctx, middleware.UserID(c), req.Uses, req.HoursValid)
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"bypass_token": token, "expires": exp})
}

// End shuts the party down: event offline, pages off, pending
// requests purged, credentials revoked.
func (h *AdminEventHandler) End(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ev, err := h.Events.EndEvent(ctx, middleware.UserID(c), middleware.Username(c))
	if err != nil {
		return mapEventErr(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}
