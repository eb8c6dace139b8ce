package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Schema is the initial SQLite schema.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    visible_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sensors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    channel INTEGER NOT NULL CHECK (channel BETWEEN 1 AND 8),
    unit TEXT NOT NULL,
    device_id TEXT NOT NULL,
    current_value REAL,
    last_timestamp DATETIME,
    FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE,
    UNIQUE (device_id, channel, type)
);

CREATE INDEX IF NOT EXISTS idx_sensors_device ON sensors(device_id);

CREATE TABLE IF NOT EXISTS sensor_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sensor_id TEXT NOT NULL,
    ts DATETIME NOT NULL,
    value REAL NOT NULL,
    FOREIGN KEY (sensor_id) REFERENCES sensors(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_ts ON sensor_readings(sensor_id, ts);

CREATE TABLE IF NOT EXISTS api_request_logs (
    id TEXT PRIMARY KEY,
    logged_at DATETIME NOT NULL,
    source_address TEXT NOT NULL DEFAULT '',
    method TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL DEFAULT '',
    device_id_attempted TEXT,
    payload_received TEXT,
    error_kind TEXT NOT NULL,
    error_details TEXT,
    status_code_returned INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_request_logs_logged_at ON api_request_logs(logged_at);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// Migrations upgrade from version N-1 to version N.
var Migrations = map[int]string{
	1: Schema,
}

// Open opens path with foreign keys and WAL enabled and migrates it.
// path may be ":memory:", which is limited to one connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return db, nil
}

// Migrate applies the initial schema or any pending migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	var current int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		if _, err := db.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", SchemaVersion)
		return err
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		migration, ok := Migrations[v]
		if !ok {
			continue
		}
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsForeignKeyViolation reports a SQLite FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
