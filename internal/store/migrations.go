package store

import (
	"context"
	"database/sql"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		repeat      INTEGER NOT NULL DEFAULT 0,
		state       TEXT NOT NULL DEFAULT 'PLAYING',
		loops       INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		ended_at    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		session_id  TEXT NOT NULL,
		type        TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '{}',
		at          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id)`,
}

// alterStatement describes a column added after the initial schema.
type alterStatement struct {
	table    string
	column   string
	alterSQL string
	indexSQL string
}

var alterStatements = []alterStatement{
	// Samples handed to decoders over the whole run, recorded at end of stream.
	{
		table:    "runs",
		column:   "decoded",
		alterSQL: "ALTER TABLE runs ADD COLUMN decoded INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	exists, err := columnExists(ctx, db, table, column)
	if err != nil || exists {
		return err
	}
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
