package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/partyjam/partyjam/internal/model"
)

// CredentialRepo manages PIN and bypass-token rows in the
// `event_access_credentials` table. Issuance runs in a transaction
// that deactivates the previous credential of the same kind before
// inserting the new one, so there is never a window with two valid
// credentials of one kind for an event.
type CredentialRepo struct{ DB *sql.DB }

func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{DB: db} }

// Issue atomically replaces the active credential of the given kind
// for an event. usesRemaining may be nil for unlimited use.
func (r *CredentialRepo) Issue(ctx context.Context, eventID uint64, kind, secretHash string, usesRemaining *int, expiresAt time.Time) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE event_access_credentials SET active=0 WHERE event_id=? AND kind=? AND active=1",
		eventID, kind); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO event_access_credentials (event_id, kind, secret_hash, uses_remaining, active, expires_at)
		 VALUES (?,?,?,?,1,?)`,
		eventID, kind, secretHash, usesRemaining, expiresAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetActiveByHash returns the active credential of an event matching
// the presented secret hash. Expiry is checked by the caller so the
// service layer owns the clock.
func (r *CredentialRepo) GetActiveByHash(ctx context.Context, eventID uint64, secretHash string) (model.AccessCredential, error) {
	var (
		c    model.AccessCredential
		uses sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, event_id, kind, secret_hash, uses_remaining, active, expires_at, created_at
		 FROM event_access_credentials
		 WHERE event_id=? AND secret_hash=? AND active=1 LIMIT 1`,
		eventID, secretHash).Scan(&c.ID, &c.EventID, &c.Kind, &c.SecretHash,
		&uses, &c.Active, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if uses.Valid {
		n := int(uses.Int64)
		c.UsesRemaining = &n
	}
	return c, nil
}

// ConsumeUse decrements uses_remaining and deactivates the credential
// when it reaches zero. Credentials with NULL uses_remaining are
// unlimited and untouched.
func (r *CredentialRepo) ConsumeUse(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE event_access_credentials
		 SET uses_remaining = uses_remaining - 1,
		     active = IF(uses_remaining <= 0, 0, active)
		 WHERE id=? AND uses_remaining IS NOT NULL`, id)
	return err
}

// DeactivateAll revokes every active credential of an event. Used
// when the event ends.
func (r *CredentialRepo) DeactivateAll(ctx context.Context, eventID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE event_access_credentials SET active=0 WHERE event_id=? AND active=1", eventID)
	return err
}
