package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/config"
	"github.com/partyjam/partyjam/internal/middleware"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/utils"
)

const verificationTTL = 48 * time.Hour

// UserDirectory is the slice of the user repository the auth endpoints
// need.
type UserDirectory interface {
	Create(ctx context.Context, username, email, password string, bcryptCost int) (uint64, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetStatus(ctx context.Context, id uint64, status string) error
	SetPassword(ctx context.Context, id uint64, password string, bcryptCost int) error
}

// SessionStore persists hashed refresh tokens.
type SessionStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// VerificationStore holds single-use email-verification and
// password-reset tokens.
type VerificationStore interface {
	Store(ctx context.Context, table string, userID uint64, tokenHash string, exp time.Time) error
	Consume(ctx context.Context, table string, tokenHash string) (uint64, error)
}

// EventLifecycle ties account transitions to the tenant's event:
// activation creates the row, login marks the console session, logout
// ends the party.
type EventLifecycle interface {
	GetOrCreate(ctx context.Context, tenantID uint64) (model.Event, error)
	MarkAdminSession(ctx context.Context, tenantID uint64, tenantUsername string, active bool)
	EndEvent(ctx context.Context, tenantID uint64, tenantUsername string) (model.Event, error)
}

// AuthHandler bundles dependencies for account endpoints. Login marks
// the event's admin session; logout ends the event outright so guest
// pages close when the host leaves the console.
type AuthHandler struct {
	Cfg           config.Config
	Users         UserDirectory
	Tokens        SessionStore
	Verifications VerificationStore
	Events        EventLifecycle
	Log           zerolog.Logger
}

func NewAuthHandler(cfg config.Config, u UserDirectory, t SessionStore,
	v VerificationStore, ev EventLifecycle, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Verifications: v, Events: ev, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type verifyEmailReq struct {
	Token string `json:"token"`
}
type resetRequestReq struct {
	Email string `json:"email"`
}
type resetConfirmReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func validUsername(u string) bool {
	if len(u) < 3 || len(u) > 32 {
		return false
	}
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Register creates a host account. The username becomes the public
// URL slug for the account's pages, so it is restricted to lowercase
// slug characters. A verification token is issued and handed to the
// mail pipeline; the account stays PENDING until it is confirmed.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/email/password required"})
	}
	if !validUsername(req.Username) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username must be 3-32 chars: a-z 0-9 - _"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too short"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Username, req.Email, req.Password, h.Cfg.BcryptCost)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		case errors.Is(err, repository.ErrEmailExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	raw, err := utils.RandomHex(32)
	if err == nil {
		err = h.Verifications.Store(ctx, repository.TableEmailVerification, uid,
			utils.HashSecret(raw), time.Now().UTC().Add(verificationTTL))
	}
	if err != nil {
		h.Log.Error().Err(err).Uint64("user", uid).Msg("issue verification token failed")
	} else {
		// TODO: hand off to the mail sender once SMTP config lands.
		h.Log.Info().Uint64("user", uid).Str("token", raw).Msg("email verification token issued")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"user": userPart{ID: uid, Username: req.Username, Email: req.Email,
			Role: model.RoleUser, Status: model.UserStatusPending},
	})
}

// VerifyEmail consumes a verification token, activates the account and
// provisions the account's event row so the public pages resolve
// before first login.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Verifications.Consume(ctx, repository.TableEmailVerification,
		utils.HashSecret(strings.TrimSpace(req.Token)))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
	}
	if err := h.Users.SetStatus(ctx, uid, model.UserStatusActive); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "activate failed"})
	}
	if _, err := h.Events.GetOrCreate(ctx, uid); err != nil {
		h.Log.Error().Err(err).Uint64("user", uid).Msg("provision event failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// Login verifies credentials and returns a token pair. Only ACTIVE
// accounts may sign in; a successful login marks the admin session
// active on the tenant's event.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	switch u.Status {
	case model.UserStatusActive:
	case model.UserStatusSuspended:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account suspended"})
	default:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "verify your email first"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Username, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashSecret(refresh.Raw), refresh.Exp); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}
	h.Events.MarkAdminSession(ctx, u.ID, u.Username, true)

	return c.JSON(http.StatusOK, authResp{
		User:    userPart{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role, Status: u.Status},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	})
}

// Refresh validates by hash, revokes the old token and issues a new
// pair (rotation).
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashSecret(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	_ = h.Tokens.RevokeByHash(ctx, hash)

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Username, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	newRef, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashSecret(newRef.Raw), newRef.Exp); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}

	return c.JSON(http.StatusOK, authResp{
		User:    userPart{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role, Status: u.Status},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: newRef.Raw, Expires: newRef.Exp},
	})
}

// RefreshAccess returns a new access token without rotating the
// refresh token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashSecret(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Username, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout revokes the presented refresh token, or all of the caller's
// sessions when only a bearer token is supplied, then ends the event:
// OFFLINE, guest pages disabled, pending requests purged, access
// credentials deactivated. The route takes no auth middleware, so the
// bearer token is parsed here when the body carries no refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		uid = middleware.BearerUserID(c, h.Cfg.JWTSecret)
	}

	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	switch {
	case refreshToken != "":
		hash := utils.HashSecret(refreshToken)
		owner, err := h.Tokens.ValidateRefresh(ctx, hash)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		uid = owner
	case uid != 0:
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
	}

	if uid != 0 {
		if u, err := h.Users.GetByID(ctx, uid); err == nil {
			if _, err := h.Events.EndEvent(ctx, u.ID, u.Username); err != nil {
				h.Log.Error().Err(err).Uint64("user", u.ID).Msg("end event on logout failed")
			}
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// RequestPasswordReset issues a reset token for the account behind
// the email. The response is identical whether or not the account
// exists.
func (h *AuthHandler) RequestPasswordReset(c echo.Context) error {
	var req resetRequestReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err == nil {
		if raw, rerr := utils.RandomHex(32); rerr == nil {
			if serr := h.Verifications.Store(ctx, repository.TablePasswordReset, u.ID,
				utils.HashSecret(raw), time.Now().UTC().Add(time.Hour)); serr == nil {
				h.Log.Info().Uint64("user", u.ID).Str("token", raw).Msg("password reset token issued")
			}
		}
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "if the account exists, a reset link was sent"})
}

// ConfirmPasswordReset consumes a reset token, sets the new password
// and revokes every live session.
func (h *AuthHandler) ConfirmPasswordReset(c echo.Context) error {
	var req resetConfirmReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too short"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Verifications.Consume(ctx, repository.TablePasswordReset,
		utils.HashSecret(strings.TrimSpace(req.Token)))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
	}
	if err := h.Users.SetPassword(ctx, uid, req.Password, h.Cfg.BcryptCost); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "set password failed"})
	}
	_ = h.Tokens.RevokeAllForUser(ctx, uid)
	return c.NoContent(http.StatusNoContent)
}

// Me is a simple protected identity echo.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":  c.Get("user_id"),
		"username": c.Get("username"),
		"role":     c.Get("role"),
	})
}
