// Package spotify wraps the Spotify Web API surface this service
// consumes: playback state, devices, search, queueing and player
// controls, plus the PKCE authorization-code flow and token refresh.
package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized means the bearer token was rejected or the grant
// was revoked. Re-authentication is required; retrying is pointless.
var ErrUnauthorized = errors.New("spotify: unauthorized")

// ErrPremiumRequired maps the 403 the player endpoints return for
// non-premium accounts. Surfaced verbatim to the admin UI.
var ErrPremiumRequired = errors.New("spotify: premium required")

// ErrNoActiveDevice means no playback device is available to receive
// a player command.
var ErrNoActiveDevice = errors.New("spotify: no active device found")

// ErrRateLimited maps HTTP 429 from the provider.
var ErrRateLimited = errors.New("spotify: rate limited")

// ErrUnavailable covers transport failures, timeouts, and 5xx
// responses. Transient; feeds the backoff state machine.
var ErrUnavailable = errors.New("spotify: unavailable")

// ErrNotFound is returned when a track lookup resolves nothing.
var ErrNotFound = errors.New("spotify: not found")

// classifyStatus translates a non-2xx player/API response into one of
// the sentinel errors above.
func classifyStatus(code int, body string) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrPremiumRequired
	case code == http.StatusNotFound:
		return ErrNoActiveDevice
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, code)
	default:
		return fmt.Errorf("spotify: unexpected status %d: %s", code, body)
	}
}

// Fatal reports whether err indicates a revoked or invalid grant, the
// one condition the reconciliation loop must not retry forever.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
