package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// parseBearer validates the Authorization header against the signing
// secret and returns the identity claims, or 0 when the header is
// missing or the token does not verify.
func parseBearer(c echo.Context, secret string) (userID uint64, username, role string) {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return 0, "", ""
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, "", ""
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", ""
	}

	// Numeric claims decode as float64.
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return 0, "", ""
	}
	username, _ = claims["username"].(string)
	role, _ = claims["role"].(string)
	return uint64(sub), username, role
}

// JWTAuth validates a Bearer access token and injects the identity
// claims into the request context. Handlers on protected routes read
// them back via UserID, Username and Role; every tenant-scoped query
// keys off the injected user id, never a path parameter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, username, role := parseBearer(c, secret)
			if uid == 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing or invalid bearer token"})
			}
			c.Set("user_id", uid)
			c.Set("username", username)
			c.Set("role", role)
			return next(c)
		}
	}
}

// BearerUserID parses the Authorization header without failing the
// request, for routes that accept a bearer token as one of several
// credentials (logout). Returns 0 when no valid token is presented.
func BearerUserID(c echo.Context, secret string) uint64 {
	uid, _, _ := parseBearer(c, secret)
	return uid
}

// UserID returns the authenticated tenant id injected by JWTAuth, or
// 0 when the request is unauthenticated.
func UserID(c echo.Context) uint64 {
	if v, ok := c.Get("user_id").(uint64); ok {
		return v
	}
	return 0
}

// Username returns the authenticated username, or "" when absent.
func Username(c echo.Context) string {
	if v, ok := c.Get("username").(string); ok {
		return v
	}
	return ""
}
