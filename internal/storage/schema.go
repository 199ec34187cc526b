// Package storage owns the SQL schema shared by the session store, the
// directory and the audit log. The DDL is kept to the subset postgres and
// sqlite agree on; times are unix milliseconds.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"callbroker/pkg/utils"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS restaurants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'AVAILABLE',
	updated_at BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS screens (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS screen_restaurants (
	screen_id     TEXT NOT NULL,
	restaurant_id TEXT NOT NULL,
	PRIMARY KEY (screen_id, restaurant_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_screen_restaurants_restaurant ON screen_restaurants (restaurant_id)`,
	`CREATE TABLE IF NOT EXISTS call_sessions (
	id             TEXT PRIMARY KEY,
	caller_id      TEXT NOT NULL,
	restaurant_id  TEXT NOT NULL,
	status         TEXT NOT NULL,
	initiated_by   TEXT NOT NULL,
	start_time     BIGINT NOT NULL,
	end_time       BIGINT,
	duration_sec   INTEGER,
	order_number   TEXT,
	recording_ref  TEXT,
	recording_size BIGINT,
	updated_at     BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_call_sessions_caller_status ON call_sessions (caller_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_call_sessions_restaurant_start ON call_sessions (restaurant_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_call_sessions_start ON call_sessions (start_time)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	restaurant_id TEXT NOT NULL,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	call_id       TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '',
	created_at    BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_restaurant ON audit_events (restaurant_id, created_at)`,
}

// Migrate creates missing tables and indexes. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate step %d: %w", i, err)
			}
		}
		return nil
	})
}

// OpenMemory returns a migrated in-memory sqlite database.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	db, err := utils.OpenSQL(ctx, utils.DriverSQLite, ":memory:", utils.SQLPoolConfig{MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
