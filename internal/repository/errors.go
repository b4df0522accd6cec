// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers
// such as services and handlers to distinguish between failure
// scenarios without inspecting SQL errors. ErrNotFound deliberately
// covers both "row absent" and "row owned by another tenant" so that
// callers cannot probe for other tenants' data.
package repository

import "errors"

// ErrNotFound is returned when an entity does not exist or is not
// owned by the calling tenant. Handlers translate this into 404.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a versioned update finds that
// the expected version no longer matches the stored row. The caller
// must re-read the entity and retry. Handlers translate this into 409.
var ErrVersionConflict = errors.New("version conflict")

// ErrEmailExists is returned when registering with an email address
// that is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrUsernameExists is returned when registering with a username that
// is already taken.
var ErrUsernameExists = errors.New("username already exists")
