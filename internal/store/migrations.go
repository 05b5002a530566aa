package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "bullets: playbook bullets with usage history",
		SQL: `
CREATE TABLE bullets (
    id              TEXT PRIMARY KEY,
    content         TEXT NOT NULL,
    bullet_type     TEXT NOT NULL DEFAULT '',

    -- Reinforcement counters
    helpful_count   INTEGER NOT NULL DEFAULT 0,
    harmful_count   INTEGER NOT NULL DEFAULT 0,

    -- RFC 3339 timestamps
    created_at      TEXT NOT NULL,
    last_used_at    TEXT NOT NULL,

    -- Usage history, JSON arrays
    usage_timeline  TEXT NOT NULL DEFAULT '[]',
    task_types_used TEXT NOT NULL DEFAULT '[]',

    -- Lifecycle
    state           TEXT NOT NULL CHECK (state IN ('active', 'archived')),
    position        INTEGER NOT NULL
);

CREATE INDEX idx_bullets_state ON bullets(state, position);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
