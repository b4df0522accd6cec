package service

import "errors"

// ErrValidation marks malformed or out-of-range input. Handlers
// translate it into HTTP 400; the wrapped message is safe to show.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorizedAccess is returned when a presented PIN or bypass
// token does not match an active, unexpired credential.
var ErrUnauthorizedAccess = errors.New("unauthorized")

// ErrRequestsClosed is returned when a guest submits while the
// tenant's event is offline or the requests page is disabled.
var ErrRequestsClosed = errors.New("requests are closed")

// ErrDuplicateTrack is returned when the same track was already
// submitted recently and is still pending, approved or queued.
var ErrDuplicateTrack = errors.New("track already requested")

// ErrTrackNotFound is returned when the playback provider cannot
// resolve the submitted track reference.
var ErrTrackNotFound = errors.New("track not found")

// ErrProviderUnavailable is returned when the playback provider is
// unreachable or rate limited; the caller should retry later.
var ErrProviderUnavailable = errors.New("playback provider unavailable")

// ErrProviderNotConnected is returned for operations that need a
// linked Spotify account when the tenant has none.
var ErrProviderNotConnected = errors.New("spotify account not connected")

// ErrInvalidTransition is returned when a review decision is applied
// to a request that already moved past PENDING to a different state.
var ErrInvalidTransition = errors.New("invalid status transition")
