package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/utils"
)

// UserRepo provides CRUD operations over the `users` table. All
// lookups exclude soft-deleted rows.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,username,email,password_hash,role,status,deleted_at,created_at,updated_at"

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u         model.User
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.Status, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}

// Create inserts a new account in PENDING status and returns its ID.
// The password is hashed here so plaintext never reaches the row.
func (r *UserRepo) Create(ctx context.Context, username, email, password string, bcryptCost int) (uint64, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, bcryptCost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, status) VALUES (?,?,?,?,?)",
		username, email, hash, model.RoleUser, model.UserStatusPending)
	if err != nil {
		// MySQL duplicate-key error carries code 1062; the key name
		// tells us which unique constraint fired.
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "1062") {
			if strings.Contains(msg, "username") {
				return 0, ErrUsernameExists
			}
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a live user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? AND deleted_at IS NULL LIMIT 1", email)
	return scanUser(row)
}

// GetByUsername fetches a live user by their public handle. Public
// endpoints resolve the tenant through this lookup.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? AND deleted_at IS NULL LIMIT 1", username)
	return scanUser(row)
}

// GetByID fetches a live user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? AND deleted_at IS NULL LIMIT 1", id)
	return scanUser(row)
}

// SetStatus updates the account lifecycle status.
func (r *UserRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET status=? WHERE id=? AND deleted_at IS NULL", status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPassword replaces the stored password hash.
func (r *UserRepo) SetPassword(ctx context.Context, id uint64, password string, bcryptCost int) error {
	hash, err := utils.HashPassword(password, bcryptCost)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE id=? AND deleted_at IS NULL", hash, id)
	return err
}

// SoftDelete marks the account deleted without removing the row.
func (r *UserRepo) SoftDelete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET deleted_at=NOW() WHERE id=? AND deleted_at IS NULL", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
