package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/service"
)

// AdminRequestHandler drives the host's moderation console: listing,
// approving, rejecting, replaying and deleting song requests.
type AdminRequestHandler struct {
	Users    *repository.UserRepo
	Requests *service.RequestService
}

func NewAdminRequestHandler(u *repository.UserRepo, r *service.RequestService) *AdminRequestHandler {
	return &AdminRequestHandler{Users: u, Requests: r}
}

type requestResp struct {
	ID         uint64     `json:"id"`
	Track      string     `json:"track"`
	Artist     string     `json:"artist"`
	Album      string     `json:"album,omitempty"`
	URI        string     `json:"uri"`
	DurationMS uint32     `json:"duration_ms,omitempty"`
	Nickname   string     `json:"nickname,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	PlayedAt   *time.Time `json:"played_at,omitempty"`
}

func toRequestResp(sr model.SongRequest) requestResp {
	return requestResp{
		ID:         sr.ID,
		Track:      sr.TrackName,
		Artist:     sr.ArtistName,
		Album:      sr.AlbumName,
		URI:        sr.TrackURI,
		DurationMS: sr.DurationMS,
		Nickname:   sr.RequesterNickname,
		Status:     sr.Status,
		CreatedAt:  sr.CreatedAt,
		ApprovedAt: sr.ApprovedAt,
		PlayedAt:   sr.PlayedAt,
	}
}

// tenant reconstructs the caller's identity from the JWT claims.
func (h *AdminRequestHandler) tenant(c echo.Context) model.User {
	return model.User{ID: middleware.UserID(c), Username: middleware.Username(c)}
}

func requestIDParam(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

func mapRequestErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrProviderNotConnected):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "spotify not connected"})
	case errors.Is(err, service.ErrProviderUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "spotify unavailable"})
	case errors.Is(err, service.ErrTrackNotFound):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "track rejected by provider"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "request operation failed"})
}

// List returns the tenant's requests, optionally filtered by
// ?status= and paginated with ?limit= / ?offset=.
func (h *AdminRequestHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	items, err := h.Requests.List(ctx, middleware.UserID(c), c.QueryParam("status"), limit, offset)
	if err != nil {
		return mapRequestErr(c, err)
	}
	out := make([]requestResp, 0, len(items))
	for _, sr := range items {
		out = append(out, toRequestResp(sr))
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": out})
}

// Approve moves a pending request to APPROVED. Re-approving an
// approved request is a no-op success.
func (h *AdminRequestHandler) Approve(c echo.Context) error {
	return h.review(c, true)
}

// Reject moves a pending request to REJECTED.
func (h *AdminRequestHandler) Reject(c echo.Context) error {
	return h.review(c, false)
}

func (h *AdminRequestHandler) review(c echo.Context, approve bool) error {
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sr, err := h.Requests.Review(ctx, h.tenant(c), id, approve)
	if err != nil {
		return mapRequestErr(c, err)
	}
	return c.JSON(http.StatusOK, toRequestResp(sr))
}

// Enqueue pushes the request's track onto the host's live Spotify
// queue. Works for any stored status so a track can be replayed.
func (h *AdminRequestHandler) Enqueue(c echo.Context) error {
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	sr, err := h.Requests.EnqueueToProvider(ctx, h.tenant(c), id)
	if err != nil {
		return mapRequestErr(c, err)
	}
	return c.JSON(http.StatusOK, toRequestResp(sr))
}

// Delete removes one request outright.
func (h *AdminRequestHandler) Delete(c echo.Context) error {
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Requests.Delete(ctx, h.tenant(c), id); err != nil {
		return mapRequestErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Cleanup deletes played requests past the retention window and
// reports the victims. ?retention_minutes= overrides the default.
func (h *AdminRequestHandler) Cleanup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	retention := time.Duration(0)
	if m, err := strconv.Atoi(c.QueryParam("retention_minutes")); err == nil && m > 0 {
		retention = time.Duration(m) * time.Minute
	}
	deleted, err := h.Requests.CleanupPlayed(ctx, h.tenant(c), retention)
	if err != nil {
		return mapRequestErr(c, err)
	}
	out := make([]requestResp, 0, len(deleted))
	for _, sr := range deleted {
		out = append(out, toRequestResp(sr))
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": out})
}
