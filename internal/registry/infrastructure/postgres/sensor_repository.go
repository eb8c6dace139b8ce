package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	registry "sensorhub/internal/registry/domain"
)

// SensorRepository is a SQL implementation of registry.SensorRepository.
type SensorRepository struct {
	db   DBTX
	opts options
}

// NewSensorRepository constructs a repository.
func NewSensorRepository(db DBTX, opts ...Option) *SensorRepository {
	return &SensorRepository{db: db, opts: buildOptions(opts)}
}

const sensorColumns = `id, name, type, channel, unit, device_id, current_value, last_timestamp`

// GetSensor loads a sensor by id.
func (r *SensorRepository) GetSensor(ctx context.Context, id string) (*registry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sensorColumns, r.opts.sensorsTable)
	sensor, err := scanSensor(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrSensorNotFound
		}
		return nil, err
	}
	return &sensor, nil
}

// FindSensor resolves the sensor of one type on a device channel.
func (r *SensorRepository) FindSensor(ctx context.Context, deviceID string, channel int, sensorType registry.SensorType) (*registry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND channel = $2 AND type = $3`, sensorColumns, r.opts.sensorsTable)
	sensor, err := scanSensor(r.db.QueryRowContext(ctx, query, deviceID, channel, string(sensorType)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrSensorNotFound
		}
		return nil, err
	}
	return &sensor, nil
}

// ListSensorsByChannel returns the sensors wired to one device channel.
func (r *SensorRepository) ListSensorsByChannel(ctx context.Context, deviceID string, channel int) ([]registry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND channel = $2
ORDER BY LOWER(name) ASC, id ASC`, sensorColumns, r.opts.sensorsTable)
	return r.list(ctx, query, deviceID, channel)
}

// ListSensors returns every sensor ordered by device and name.
func (r *SensorRepository) ListSensors(ctx context.Context) ([]registry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY device_id ASC, LOWER(name) ASC, channel ASC`, sensorColumns, r.opts.sensorsTable)
	return r.list(ctx, query)
}

func (r *SensorRepository) list(ctx context.Context, query string, args ...any) ([]registry.Sensor, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []registry.Sensor{}
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSensor inserts a sensor.
func (r *SensorRepository) CreateSensor(ctx context.Context, sensor *registry.Sensor) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if sensor == nil {
		return registry.ErrInvalidSensor
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, type, channel, unit, device_id, current_value, last_timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.opts.sensorsTable)
	_, err := r.db.ExecContext(ctx, query,
		sensor.ID, sensor.Name, string(sensor.Type), sensor.Channel, sensor.Unit, sensor.DeviceID,
		nullFloat(sensor.CurrentValue), nullTime(sensor.LastTimestamp))
	return r.mapWriteError(err)
}

// UpdateSensor changes a sensor's registration. The latest value and timestamp are left alone.
func (r *SensorRepository) UpdateSensor(ctx context.Context, sensor *registry.Sensor) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if sensor == nil {
		return registry.ErrInvalidSensor
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET name = $1, type = $2, channel = $3, unit = $4, device_id = $5
WHERE id = $6`, r.opts.sensorsTable)
	res, err := r.db.ExecContext(ctx, query,
		sensor.Name, string(sensor.Type), sensor.Channel, sensor.Unit, sensor.DeviceID, sensor.ID)
	if err != nil {
		return r.mapWriteError(err)
	}
	return expectRow(res, registry.ErrSensorNotFound)
}

// DeleteSensor removes a sensor. Its readings go with it through ON DELETE CASCADE.
func (r *SensorRepository) DeleteSensor(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.opts.sensorsTable), id)
	if err != nil {
		return err
	}
	return expectRow(res, registry.ErrSensorNotFound)
}

func (r *SensorRepository) mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case r.opts.isConflict(err):
		return registry.ErrDuplicateSensor
	case r.opts.isOrphan(err):
		return registry.ErrDeviceNotFound
	default:
		return err
	}
}

func scanSensor(row rowScanner) (registry.Sensor, error) {
	var (
		sensor     registry.Sensor
		sensorType string
		value      sql.NullFloat64
		ts         sql.NullTime
	)
	if err := row.Scan(&sensor.ID, &sensor.Name, &sensorType, &sensor.Channel, &sensor.Unit, &sensor.DeviceID, &value, &ts); err != nil {
		return registry.Sensor{}, err
	}
	sensor.Type = registry.SensorType(sensorType)
	if value.Valid {
		v := value.Float64
		sensor.CurrentValue = &v
	}
	if ts.Valid {
		t := ts.Time.UTC()
		sensor.LastTimestamp = &t
	}
	return sensor, nil
}
