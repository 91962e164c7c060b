package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLUserStore is a UserStore backed by the users table
type SQLUserStore struct {
	db *sql.DB
}

// NewSQLUserStore creates a new SQL user store
func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

const usersTable = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		system_role TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)
`

// Migrate creates the users table if it does not exist
func (s *SQLUserStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersTable); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// GetUser retrieves a principal by id
func (s *SQLUserStore) GetUser(ctx context.Context, id string) (*Principal, error) {
	query := `SELECT id, email, system_role, created_at FROM users WHERE id = $1`

	var p Principal
	var role string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Email, &role, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	p.SystemRole = SystemRole(role)
	return &p, nil
}

// CreateUser inserts a new principal
func (s *SQLUserStore) CreateUser(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO users (id, email, system_role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, p.ID, p.Email, string(p.SystemRole), p.CreatedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserExists
	}
	return nil
}

// UpdateRole updates a principal's system role
func (s *SQLUserStore) UpdateRole(ctx context.Context, id string, role SystemRole) error {
	query := `UPDATE users SET system_role = $1 WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, string(role), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
