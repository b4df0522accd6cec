package repository

import (
	"context"
	"database/sql"
	"time"
)

// VerificationRepo persists single-use, expiring tokens for email
// verification and password resets. Tokens are stored as SHA-256
// hashes and consumed exactly once.
type VerificationRepo struct{ DB *sql.DB }

func NewVerificationRepo(db *sql.DB) *VerificationRepo { return &VerificationRepo{DB: db} }

// Valid table names for this repo; everything else is rejected to
// keep the table name out of caller control.
const (
	TableEmailVerification = "email_verification_tokens"
	TablePasswordReset     = "password_reset_tokens"
)

func validTokenTable(table string) bool {
	return table == TableEmailVerification || table == TablePasswordReset
}

// Store inserts a token hash for the user.
func (r *VerificationRepo) Store(ctx context.Context, table string, userID uint64, tokenHash string, exp time.Time) error {
	if !validTokenTable(table) {
		return ErrNotFound
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO "+table+" (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, exp)
	return err
}

// Consume validates a token hash and marks it used in one guarded
// UPDATE; a second consume of the same token affects zero rows and
// fails. Returns the owning user id.
func (r *VerificationRepo) Consume(ctx context.Context, table string, tokenHash string) (uint64, error) {
	if !validTokenTable(table) {
		return 0, ErrNotFound
	}
	var (
		userID    uint64
		expiresAt time.Time
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM "+table+" WHERE token_hash=? AND used_at IS NULL LIMIT 1",
		tokenHash).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if time.Now().UTC().After(expiresAt) {
		return 0, ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE "+table+" SET used_at=NOW() WHERE token_hash=? AND used_at IS NULL", tokenHash)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return userID, nil
}
