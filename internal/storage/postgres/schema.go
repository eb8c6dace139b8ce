package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Schema creates every table the service uses. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	visible_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sensors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	channel INTEGER NOT NULL CHECK (channel BETWEEN 1 AND 8),
	unit TEXT NOT NULL,
	device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	current_value DOUBLE PRECISION,
	last_timestamp TIMESTAMPTZ,
	UNIQUE (device_id, channel, type)
);

CREATE TABLE IF NOT EXISTS sensor_readings (
	id BIGSERIAL PRIMARY KEY,
	sensor_id TEXT NOT NULL REFERENCES sensors(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	value DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_ts ON sensor_readings (sensor_id, ts DESC);

CREATE TABLE IF NOT EXISTS api_request_logs (
	id TEXT PRIMARY KEY,
	logged_at TIMESTAMPTZ NOT NULL,
	source_address TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	device_id_attempted TEXT,
	payload_received TEXT,
	error_kind TEXT NOT NULL,
	error_details JSONB,
	status_code_returned INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_request_logs_logged_at ON api_request_logs (logged_at DESC);
`

// Open connects through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}
