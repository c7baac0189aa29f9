package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is a numbered batch of DDL statements. Entries are append-only.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	// Version 1 is the base schema created by schemaSQL.
	{version: 1, name: "mindmaps, embeddings and usage"},
	{
		version: 2,
		name:    "usage lookup by user and time",
		stmts: []string{
			"CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at)",
		},
	},
}

const versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	description TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate brings the database up to the latest version. It is safe to call
// on every open.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("store: migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
