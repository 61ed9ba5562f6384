package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// Timestamps are stored as unix milliseconds so the schema runs unchanged on
// postgres and sqlite.
var migrations = []migration{
	{
		version: 1,
		name:    "installations",
		stmts: []string{`
CREATE TABLE IF NOT EXISTS installations (
    id          TEXT PRIMARY KEY,
    platform    TEXT NOT NULL,
    account_id  TEXT NOT NULL,
    credentials TEXT NOT NULL DEFAULT '{}',
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL,
    UNIQUE (platform, account_id)
)`},
	},
	{
		version: 2,
		name:    "revision_cursors",
		stmts: []string{`
CREATE TABLE IF NOT EXISTS revision_cursors (
    installation_id TEXT NOT NULL,
    target          TEXT NOT NULL,
    revision_id     TEXT NOT NULL,
    updated_at      BIGINT NOT NULL,
    PRIMARY KEY (installation_id, target)
)`},
	},
	{
		version: 3,
		name:    "runs",
		stmts: []string{`
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    installation_id TEXT NOT NULL,
    target          TEXT NOT NULL,
    requested_by    TEXT NOT NULL DEFAULT '',
    requested_at    BIGINT NOT NULL,
    revisions       TEXT NOT NULL DEFAULT '[]',
    status          TEXT NOT NULL,
    result_ref      TEXT NOT NULL DEFAULT '',
    provenance      TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    finished_at     BIGINT
)`,
			`CREATE INDEX IF NOT EXISTS runs_target_requested_at ON runs (target, requested_at)`,
		},
	},
}

// Migrate applies pending schema migrations in order.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, rebind(driver, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), m.version, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}
	return nil
}
