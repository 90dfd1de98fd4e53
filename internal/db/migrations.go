package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/makemagic/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks and item documents",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "index item documents by state for purge scans",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    uuid        TEXT PRIMARY KEY,
    metadata    TEXT NOT NULL CHECK (json_valid(metadata)),
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE items (
    task_uuid   TEXT NOT NULL REFERENCES tasks(uuid) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    position    INTEGER NOT NULL,
    doc         TEXT NOT NULL CHECK (json_valid(doc)),
    PRIMARY KEY (task_uuid, name)
);

CREATE INDEX idx_items_task_position ON items(task_uuid, position);
CREATE INDEX idx_tasks_created ON tasks(created_at);
`

const migration002SQL = `
CREATE INDEX idx_items_state ON items(task_uuid, json_extract(doc, '$.state'));
`

// Migrate runs all pending migrations inside transactions. Each applied
// migration is logged at debug level to log; a nil log discards them.
func Migrate(db *sql.DB, log *logging.Logger) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	if log == nil {
		log = logging.Discard()
	}
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.DebugCtx("applied migration", map[string]any{
			"version":     migration.Version,
			"description": migration.Description,
		})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
