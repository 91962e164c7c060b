package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/sitegate/pkg/auth"
)

// Migration is a schema step for the membership tables
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the membership schema. The statements are portable
// between PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create project_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_memberships (
					project_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL,
					access_window TEXT,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (project_id, user_id)
				)
			`,
		},
		{
			Version:     2,
			Description: "Create module_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS module_access (
					user_id TEXT NOT NULL,
					project_id TEXT NOT NULL,
					module TEXT NOT NULL,
					can_view BOOLEAN NOT NULL DEFAULT FALSE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_upload BOOLEAN NOT NULL DEFAULT FALSE,
					can_request BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (user_id, project_id, module)
				)
			`,
		},
		{
			Version:     3,
			Description: "Index memberships by user",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_project_memberships_user_id ON project_memberships(user_id)`,
		},
	}
}

// SQLStore is a MembershipStore on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQL membership store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate applies every migration in order
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, m := range GetMigrations() {
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// GetMembership retrieves the membership of userID in projectID
func (s *SQLStore) GetMembership(ctx context.Context, userID, projectID string) (*Membership, error) {
	query := `
		SELECT project_id, user_id, role, access_window, created_at
		FROM project_memberships
		WHERE user_id = $1 AND project_id = $2
	`

	var m Membership
	var role string
	var window sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID, projectID).Scan(
		&m.ProjectID,
		&m.UserID,
		&role,
		&window,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	m.Role = auth.SystemRole(role)
	if window.Valid && window.String != "" {
		var w AccessWindow
		if err := json.Unmarshal([]byte(window.String), &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal access window: %w", err)
		}
		m.AccessWindow = &w
	}
	return &m, nil
}

// GetModuleAccess retrieves one module row
func (s *SQLStore) GetModuleAccess(ctx context.Context, userID, projectID string, module Module) (*ModuleAccess, error) {
	query := `
		SELECT user_id, project_id, module, can_view, can_edit, can_upload, can_request
		FROM module_access
		WHERE user_id = $1 AND project_id = $2 AND module = $3
	`

	access, err := scanModuleAccess(s.db.QueryRowContext(ctx, query, userID, projectID, string(module)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module access: %w", err)
	}
	return access, nil
}

// ListModuleAccess lists every module row of the pair
func (s *SQLStore) ListModuleAccess(ctx context.Context, userID, projectID string) ([]ModuleAccess, error) {
	query := `
		SELECT user_id, project_id, module, can_view, can_edit, can_upload, can_request
		FROM module_access
		WHERE user_id = $1 AND project_id = $2
		ORDER BY module
	`

	rows, err := s.db.QueryContext(ctx, query, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module access: %w", err)
	}
	defer rows.Close()

	var result []ModuleAccess
	for rows.Next() {
		access, err := scanModuleAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module access: %w", err)
		}
		result = append(result, *access)
	}
	return result, rows.Err()
}

// ListProjects lists the projects userID belongs to
func (s *SQLStore) ListProjects(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT project_id FROM project_memberships WHERE user_id = $1 ORDER BY project_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		projects = append(projects, id)
	}
	return projects, rows.Err()
}

// PutMembership inserts or replaces a membership
func (s *SQLStore) PutMembership(ctx context.Context, m *Membership) error {
	var window interface{}
	if m.AccessWindow != nil {
		data, err := json.Marshal(m.AccessWindow)
		if err != nil {
			return fmt.Errorf("failed to marshal access window: %w", err)
		}
		window = string(data)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO project_memberships (project_id, user_id, role, access_window, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, access_window = EXCLUDED.access_window
	`
	if _, err := s.db.ExecContext(ctx, query, m.ProjectID, m.UserID, string(m.Role), window, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to put membership: %w", err)
	}
	return nil
}

// DeleteMembership removes a membership and its module rows in one transaction
func (s *SQLStore) DeleteMembership(ctx context.Context, userID, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM module_access WHERE user_id = $1 AND project_id = $2`, userID, projectID); err != nil {
		return fmt.Errorf("failed to delete module access: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM project_memberships WHERE user_id = $1 AND project_id = $2`, userID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// PutModuleAccess inserts or replaces a module row
func (s *SQLStore) PutModuleAccess(ctx context.Context, a *ModuleAccess) error {
	query := `
		INSERT INTO module_access (user_id, project_id, module, can_view, can_edit, can_upload, can_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, project_id, module) DO UPDATE
		SET can_view = EXCLUDED.can_view,
			can_edit = EXCLUDED.can_edit,
			can_upload = EXCLUDED.can_upload,
			can_request = EXCLUDED.can_request
	`
	_, err := s.db.ExecContext(ctx, query,
		a.UserID,
		a.ProjectID,
		string(a.Module),
		a.CanView,
		a.CanEdit,
		a.CanUpload,
		a.CanRequest,
	)
	if err != nil {
		return fmt.Errorf("failed to put module access: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModuleAccess(row rowScanner) (*ModuleAccess, error) {
	var a ModuleAccess
	var module string
	if err := row.Scan(
		&a.UserID,
		&a.ProjectID,
		&module,
		&a.CanView,
		&a.CanEdit,
		&a.CanUpload,
		&a.CanRequest,
	); err != nil {
		return nil, err
	}
	a.Module = Module(module)
	return &a, nil
}

var _ MembershipStore = (*SQLStore)(nil)
