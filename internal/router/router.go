// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/partyjam/partyjam/internal/config"
	"github.com/partyjam/partyjam/internal/handler"
	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/model"
)

// RegisterRoutes registers routes that carry no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the account endpoints. Register, login,
// refresh and the email/password flows are open; /v1/me requires a
// token. Logout accepts either a bearer token or a refresh token in
// the body, so it stays outside the protected group.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/verify-email", a.VerifyEmail)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)
	g.POST("/password-reset", a.RequestPasswordReset)
	g.POST("/password-reset/confirm", a.ConfirmPasswordReset)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterPublic registers the guest surface under /v1/p/:username.
// The read routes go through the Redis response cache and all of it
// sits behind the perimeter rate limiter; neither requires a login.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, rdb *redis.Client,
	rlCfg config.RateLimitConfig, cacheCfg config.CacheConfig) {
	limiter := middleware.NewTokenBucket(rlCfg, rdb)
	cache := middleware.NewRedisCache(cacheCfg, rdb)

	g := e.Group("/v1/p/:username", limiter)
	g.GET("/event", p.EventState, cache)
	g.GET("/queue", p.Queue, cache)
	g.GET("/updates", p.Updates)
	g.POST("/access", p.VerifyAccess)
	g.POST("/requests", p.Submit)
}

// RegisterAdmin registers the host console under /v1/admin. Every
// route requires a valid access token with the USER or SUPERADMIN
// role; the tenant id always comes from the token claims.
func RegisterAdmin(e *echo.Echo, jwtSecret string,
	ev *handler.AdminEventHandler, req *handler.AdminRequestHandler,
	pb *handler.AdminPlaybackHandler, sp *handler.SpotifyAuthHandler) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleSuperadmin),
	)

	// ---- Event ----
	g.GET("/event", ev.Get)
	g.PATCH("/event", ev.Patch)
	g.POST("/event/pages/:page", ev.TogglePage)
	g.POST("/event/pin", ev.IssuePin)
	g.POST("/event/bypass-token", ev.IssueBypassToken)
	g.POST("/event/end", ev.End)

	// ---- Requests ----
	g.GET("/requests", req.List)
	g.POST("/requests/:id/approve", req.Approve)
	g.POST("/requests/:id/reject", req.Reject)
	g.POST("/requests/:id/enqueue", req.Enqueue)
	g.DELETE("/requests/:id", req.Delete)
	g.POST("/requests/cleanup", req.Cleanup)

	// ---- Playback ----
	g.GET("/playback", pb.State)
	g.GET("/playback/devices", pb.Devices)
	g.POST("/playback/pause", pb.Pause)
	g.POST("/playback/resume", pb.Resume)
	g.POST("/playback/next", pb.Next)
	g.POST("/playback/previous", pb.Previous)
	g.POST("/playback/volume", pb.SetVolume)
	g.POST("/playback/reset-connection", pb.ResetConnection)

	// ---- Spotify account link ----
	g.POST("/spotify/connect", sp.Connect)
	g.POST("/spotify/disconnect", sp.Disconnect)
	g.GET("/spotify/status", sp.Status)

	// The OAuth redirect lands here without our JWT; the state
	// parameter ties it back to the tenant that started the flow.
	e.GET("/v1/spotify/callback", sp.Callback)
}
