package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/playback"
	"github.com/partyjam/partyjam/internal/spotify"
)

// AdminPlaybackHandler proxies transport controls to the host's
// Spotify player. Every call goes through the connection tracker, so
// a flapping provider backs the console off along with the
// reconciler.
type AdminPlaybackHandler struct {
	Tokens     *spotify.TokenManager
	Client     *spotify.Client
	Conn       *spotify.ConnTracker
	Reconciler *playback.Manager
}

func NewAdminPlaybackHandler(tm *spotify.TokenManager, cl *spotify.Client,
	conn *spotify.ConnTracker, rec *playback.Manager) *AdminPlaybackHandler {
	return &AdminPlaybackHandler{Tokens: tm, Client: cl, Conn: conn, Reconciler: rec}
}

type volumeReq struct {
	Percent int `json:"percent"`
}

func mapPlaybackErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, spotify.ErrNotConnected), errors.Is(err, spotify.ErrUnauthorized):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "spotify not connected"})
	case errors.Is(err, spotify.ErrPremiumRequired):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "spotify premium required"})
	case errors.Is(err, spotify.ErrNoActiveDevice):
		return c.JSON(http.StatusConflict, echo.Map{"error": "no active playback device"})
	case errors.Is(err, spotify.ErrRateLimited), errors.Is(err, spotify.ErrUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "spotify unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "playback operation failed"})
}

// call wraps one provider round trip with token lookup and
// connection-state accounting.
func (h *AdminPlaybackHandler) call(c echo.Context, fn func(ctx context.Context, token string) error) error {
	uid := middleware.UserID(c)
	if !h.Conn.Allowed(uid) {
		state, lastErr := h.Conn.State(uid)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "spotify unavailable", "state": state, "last_error": lastErr})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	token, err := h.Tokens.AccessToken(ctx, uid)
	if err != nil {
		h.Conn.Failure(uid, err)
		return mapPlaybackErr(c, err)
	}
	if err := fn(ctx, token); err != nil {
		h.Conn.Failure(uid, err)
		return mapPlaybackErr(c, err)
	}
	h.Conn.Success(uid)
	return nil
}

// State returns what is currently playing on the host's account.
func (h *AdminPlaybackHandler) State(c echo.Context) error {
	var state *spotify.PlaybackState
	if err := h.call(c, func(ctx context.Context, token string) error {
		var err error
		state, err = h.Client.CurrentPlayback(ctx, token)
		return err
	}); err != nil {
		return err
	}
	if state == nil {
		return c.JSON(http.StatusOK, echo.Map{"is_playing": false})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"is_playing":  state.IsPlaying,
		"progress_ms": state.ProgressMS,
		"track":       state.Track,
		"device":      state.Device,
		"shuffle":     state.ShuffleOn,
		"repeat":      state.RepeatMode,
	})
}

// Devices lists the host's available playback devices.
func (h *AdminPlaybackHandler) Devices(c echo.Context) error {
	var devices []spotify.Device
	if err := h.call(c, func(ctx context.Context, token string) error {
		var err error
		devices, err = h.Client.Devices(ctx, token)
		return err
	}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"devices": devices})
}

func (h *AdminPlaybackHandler) Pause(c echo.Context) error {
	if err := h.call(c, h.Client.Pause); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminPlaybackHandler) Resume(c echo.Context) error {
	if err := h.call(c, h.Client.Resume); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminPlaybackHandler) Next(c echo.Context) error {
	if err := h.call(c, h.Client.Next); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminPlaybackHandler) Previous(c echo.Context) error {
	if err := h.call(c, h.Client.Previous); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SetVolume sets the active device volume, clamped to 0-100.
func (h *AdminPlaybackHandler) SetVolume(c echo.Context) error {
	var req volumeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.call(c, func(ctx context.Context, token string) error {
		return h.Client.SetVolume(ctx, token, req.Percent)
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetConnection clears the disconnected/degraded marker after the
// host fixed things upstream, and restarts the polling loop.
func (h *AdminPlaybackHandler) ResetConnection(c echo.Context) error {
	uid := middleware.UserID(c)
	h.Conn.Reset(uid)
	h.Reconciler.StartTenant(uid)
	state, lastErr := h.Conn.State(uid)
	return c.JSON(http.StatusOK, echo.Map{"state": state, "last_error": lastErr})
}
