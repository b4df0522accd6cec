package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/playback"
	"github.com/partyjam/partyjam/internal/spotify"
)

// SpotifyAuthHandler runs the PKCE authorization-code flow that links
// a host account to their Spotify account. The callback arrives from
// Spotify's redirect without our JWT, so the state parameter alone
// identifies which tenant started the flow.
type SpotifyAuthHandler struct {
	Auth       *spotify.Authenticator
	Tokens     *spotify.TokenManager
	Conn       *spotify.ConnTracker
	Reconciler *playback.Manager
	Log        zerolog.Logger
}

func NewSpotifyAuthHandler(a *spotify.Authenticator, tm *spotify.TokenManager,
	conn *spotify.ConnTracker, rec *playback.Manager, log zerolog.Logger) *SpotifyAuthHandler {
	return &SpotifyAuthHandler{Auth: a, Tokens: tm, Conn: conn, Reconciler: rec, Log: log}
}

// Connect starts the flow and hands back the authorize URL for the
// console to redirect to.
func (h *SpotifyAuthHandler) Connect(c echo.Context) error {
	url, err := h.Auth.BeginAuth(middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "begin auth failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"authorize_url": url})
}

// Callback is Spotify's redirect target. On success the tokens are
// stored, connection state is reset and the polling loop starts.
func (h *SpotifyAuthHandler) Callback(c echo.Context) error {
	if e := c.QueryParam("error"); e != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": e})
	}
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state and code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	tenantID, ts, err := h.Auth.Exchange(ctx, state, code)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authorization failed"})
	}
	if err := h.Tokens.Store(ctx, tenantID, ts); err != nil {
		h.Log.Error().Err(err).Uint64("tenant", tenantID).Msg("store spotify tokens failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "store tokens failed"})
	}
	h.Conn.Reset(tenantID)
	h.Reconciler.StartTenant(tenantID)
	h.Log.Info().Uint64("tenant", tenantID).Msg("spotify account connected")

	return c.JSON(http.StatusOK, echo.Map{"connected": true})
}

// Disconnect unlinks the Spotify account and stops the polling loop.
func (h *SpotifyAuthHandler) Disconnect(c echo.Context) error {
	uid := middleware.UserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Tokens.Disconnect(ctx, uid); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "disconnect failed"})
	}
	h.Reconciler.StopTenant(uid)
	h.Conn.Forget(uid)
	return c.NoContent(http.StatusNoContent)
}

// Status reports whether the account is linked and how the
// connection has been behaving.
func (h *SpotifyAuthHandler) Status(c echo.Context) error {
	uid := middleware.UserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	connected, err := h.Tokens.IsConnected(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "status check failed"})
	}
	state, lastErr := h.Conn.State(uid)
	return c.JSON(http.StatusOK, echo.Map{
		"connected":  connected,
		"state":      state,
		"last_error": lastErr,
	})
}
