package model

import "time"

// Roles assignable to an account. SUPERADMIN is reserved for
// operational access across tenants; every party host is a USER.
const (
	RoleUser       = "USER"
	RoleSuperadmin = "SUPERADMIN"
)

// Account lifecycle states. A freshly registered account stays
// PENDING until its email address is verified.
const (
	UserStatusPending   = "PENDING"
	UserStatusActive    = "ACTIVE"
	UserStatusSuspended = "SUSPENDED"
)

// User represents a tenant account as stored in the `users` table.
// Accounts are never hard-deleted; DeletedAt marks a soft delete and
// every lookup filters it out.
//
// Fields:
//  ID           – primary key identifier.
//  Username     – unique public handle; public pages are keyed by it.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – USER or SUPERADMIN.
//  Status       – PENDING, ACTIVE or SUSPENDED.
//  DeletedAt    – soft-delete marker (nullable).
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64     // users.id
	Username     string     // users.username
	Email        string     // users.email
	PasswordHash string     // users.password_hash
	Role         string     // users.role
	Status       string     // users.status
	DeletedAt    *time.Time // users.deleted_at (nullable)
	CreatedAt    time.Time  // users.created_at
	UpdatedAt    time.Time  // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table. The
// plain token is never stored; only its SHA-256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
