package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBSink writes audit entries to PostgreSQL
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database-backed sink and ensures its table exists
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	sink := &DBSink{db: db}
	if err := sink.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}

	return sink, nil
}

// ensureTable creates the audit_entries table if it doesn't exist
func (s *DBSink) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		project_id VARCHAR(255),
		action VARCHAR(64) NOT NULL,
		entity VARCHAR(100) NOT NULL,
		entity_id VARCHAR(255),
		meta JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_project ON audit_entries(project_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_user ON audit_entries(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_entity ON audit_entries(entity, entity_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// Write inserts an entry. The generated id is not written back to the entry.
func (s *DBSink) Write(ctx context.Context, entry *Entry) error {
	var meta interface{}
	if len(entry.Meta) > 0 {
		metaJSON, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = metaJSON
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (user_id, project_id, action, entity, entity_id, meta, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.UserID, nullString(entry.ProjectID), string(entry.Action),
		entry.Entity, nullString(entry.EntityID), meta, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries matching filter, newest first
func (s *DBSink) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `
		SELECT id, user_id, project_id, action, entity, entity_id, meta, timestamp
		FROM audit_entries
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND project_id = $%d", argCount)
		args = append(args, filter.ProjectID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.Entity != "" {
		query += fmt.Sprintf(" AND entity = $%d", argCount)
		args = append(args, filter.Entity)
		argCount++
	}

	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			entry     Entry
			projectID sql.NullString
			entityID  sql.NullString
			action    string
			metaJSON  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &projectID, &action, &entry.Entity, &entityID, &metaJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.ProjectID = projectID.String
		entry.EntityID = entityID.String
		entry.Action = Action(action)

		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Close is a no-op; the database handle is shared
func (s *DBSink) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
