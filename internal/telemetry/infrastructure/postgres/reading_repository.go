package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

const (
	defaultReadingsTable = "sensor_readings"
	defaultSensorsTable  = "sensors"
)

// ReadingRepository stores readings and the sensors' latest values.
type ReadingRepository struct {
	db            *sql.DB
	readingsTable string
	sensorsTable  string
}

// ReadingOption configures the repository.
type ReadingOption func(*ReadingRepository)

// WithReadingsTable overrides the default readings table name.
func WithReadingsTable(table string) ReadingOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.readingsTable = table
		}
	}
}

// WithSensorsTable overrides the sensors table updated by RecordReading.
func WithSensorsTable(table string) ReadingOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.sensorsTable = table
		}
	}
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...ReadingOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, readingsTable: defaultReadingsTable, sensorsTable: defaultSensorsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AppendReading inserts a reading without touching the sensor.
func (r *ReadingRepository) AppendReading(ctx context.Context, reading telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	return r.insert(ctx, r.db, reading)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *ReadingRepository) insert(ctx context.Context, db execer, reading telemetry.Reading) error {
	query := fmt.Sprintf(`INSERT INTO %s (sensor_id, ts, value) VALUES ($1, $2, $3)`, r.readingsTable)
	_, err := db.ExecContext(ctx, query, reading.SensorID, reading.Timestamp.UTC(), reading.Value)
	return err
}

// RecordReading moves the sensor's latest value to reading and appends it in one transaction.
func (r *ReadingRepository) RecordReading(ctx context.Context, reading telemetry.Reading) (err error) {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	update := fmt.Sprintf(`UPDATE %s SET current_value = $1, last_timestamp = $2 WHERE id = $3`, r.sensorsTable)
	res, err := tx.ExecContext(ctx, update, reading.Value, reading.Timestamp.UTC(), reading.SensorID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return registry.ErrSensorNotFound
	}
	if err = r.insert(ctx, tx, reading); err != nil {
		return err
	}
	return tx.Commit()
}

// ListRecentReadings returns up to limit of the newest readings, oldest first.
func (r *ReadingRepository) ListRecentReadings(ctx context.Context, sensorID string, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if limit <= 0 {
		return []telemetry.Reading{}, nil
	}
	query := fmt.Sprintf(`
SELECT sensor_id, ts, value
FROM %s
WHERE sensor_id = $1
ORDER BY ts DESC, id DESC
LIMIT $2`, r.readingsTable)

	rows, err := r.db.QueryContext(ctx, query, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []telemetry.Reading{}
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(&reading.SensorID, &reading.Timestamp, &reading.Value); err != nil {
			return nil, err
		}
		reading.Timestamp = reading.Timestamp.UTC()
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return telemetry.OldestFirst(result), nil
}

// CountReadings reports how many readings a sensor has.
func (r *ReadingRepository) CountReadings(ctx context.Context, sensorID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sensor_id = $1`, r.readingsTable)
	if err := r.db.QueryRowContext(ctx, query, sensorID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
