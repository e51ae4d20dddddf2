package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User account statuses.
const (
	UserActive   = "active"
	UserDisabled = "disabled"
)

// User represents a platform account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUser inserts a new user.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), password_hash, COALESCE(role, 'user'), COALESCE(status, 'active'), created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	return scanUser(row)
}

// GetUserByID returns a user by id or nil if not found.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), password_hash, COALESCE(role, 'user'), COALESCE(status, 'active'), created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
