package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultDevicesTable = "devices"
	defaultSensorsTable = "sensors"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConflictDetector reports whether err is a unique-constraint violation.
type ConflictDetector func(err error) bool

type options struct {
	devicesTable string
	sensorsTable string
	isConflict   ConflictDetector
	isOrphan     ConflictDetector
}

// Option configures the repositories.
type Option func(*options)

// WithDevicesTable overrides the default devices table name.
func WithDevicesTable(table string) Option {
	return func(o *options) {
		if table != "" {
			o.devicesTable = table
		}
	}
}

// WithSensorsTable overrides the default sensors table name.
func WithSensorsTable(table string) Option {
	return func(o *options) {
		if table != "" {
			o.sensorsTable = table
		}
	}
}

// WithConflictDetector replaces the Postgres unique-violation check, e.g. for SQLite.
func WithConflictDetector(detect ConflictDetector) Option {
	return func(o *options) {
		if detect != nil {
			o.isConflict = detect
		}
	}
}

// WithForeignKeyDetector replaces the Postgres foreign_key_violation check.
func WithForeignKeyDetector(detect ConflictDetector) Option {
	return func(o *options) {
		if detect != nil {
			o.isOrphan = detect
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		devicesTable: defaultDevicesTable,
		sensorsTable: defaultSensorsTable,
		isConflict:   IsUniqueViolation,
		isOrphan:     IsForeignKeyViolation,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// IsUniqueViolation reports a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsForeignKeyViolation reports a Postgres foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
