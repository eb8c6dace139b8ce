package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultAuditTable = "api_request_logs"

// Repository writes audit logs to Postgres.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	if db == nil {
		return nil
	}
	repo := &Repository{db: db, table: defaultAuditTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return ErrNilRepository
	}
	entry = Prepare(entry, time.Now())

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, logged_at, source_address, method, path, device_id_attempted,
	payload_received, error_kind, error_details, status_code_returned
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.SourceAddress, entry.Method, entry.Path,
		nullString(entry.DeviceIDAttempted), nullString(entry.PayloadReceived),
		entry.ErrorKind, string(entry.ErrorDetails), entry.StatusCode)
	return err
}

// List returns the newest entries first.
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, ErrNilRepository
	}
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT id, logged_at, source_address, method, path, device_id_attempted,
	payload_received, error_kind, error_details, status_code_returned
FROM %s
ORDER BY logged_at DESC, id DESC
LIMIT $1`, r.table)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		entry, err := ScanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Clear deletes all entries.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, ErrNilRepository
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanEntry reads one row in the column order used by List.
func ScanEntry(row Scanner) (Entry, error) {
	var (
		entry   Entry
		device  sql.NullString
		payload sql.NullString
		details []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.SourceAddress,
		&entry.Method,
		&entry.Path,
		&device,
		&payload,
		&entry.ErrorKind,
		&details,
		&entry.StatusCode,
	); err != nil {
		return Entry{}, err
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if device.Valid {
		entry.DeviceIDAttempted = &device.String
	}
	if payload.Valid {
		entry.PayloadReceived = &payload.String
	}
	entry.ErrorDetails = append([]byte(nil), details...)
	return entry, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
