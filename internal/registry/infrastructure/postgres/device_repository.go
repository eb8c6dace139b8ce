package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	registry "sensorhub/internal/registry/domain"
)

// DeviceRepository is a SQL implementation of registry.DeviceRepository.
type DeviceRepository struct {
	db   DBTX
	opts options
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...Option) *DeviceRepository {
	return &DeviceRepository{db: db, opts: buildOptions(opts)}
}

const deviceColumns = `id, visible_id, name, created_at, updated_at`

// GetDevice loads a device by id.
func (r *DeviceRepository) GetDevice(ctx context.Context, id string) (*registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, deviceColumns, r.opts.devicesTable)
	return r.one(ctx, query, id)
}

// FindDeviceByVisibleID loads a device by its operator-facing id.
func (r *DeviceRepository) FindDeviceByVisibleID(ctx context.Context, visibleID string) (*registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE visible_id = $1`, deviceColumns, r.opts.devicesTable)
	return r.one(ctx, query, visibleID)
}

func (r *DeviceRepository) one(ctx context.Context, query string, arg string) (*registry.Device, error) {
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrDeviceNotFound
		}
		return nil, err
	}
	return &device, nil
}

// ListDevices returns devices ordered by name.
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY LOWER(name) ASC, visible_id ASC`, deviceColumns, r.opts.devicesTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []registry.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateDevice inserts a device.
func (r *DeviceRepository) CreateDevice(ctx context.Context, device *registry.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return registry.ErrInvalidDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, visible_id, name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`, r.opts.devicesTable)
	_, err := r.db.ExecContext(ctx, query, device.ID, device.VisibleID, device.Name, device.CreatedAt.UTC(), device.UpdatedAt.UTC())
	if err != nil && r.opts.isConflict(err) {
		return registry.ErrDuplicateVisibleID
	}
	return err
}

// UpdateDevice changes a device's visible id and name.
func (r *DeviceRepository) UpdateDevice(ctx context.Context, device *registry.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return registry.ErrInvalidDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET visible_id = $1, name = $2, updated_at = $3
WHERE id = $4`, r.opts.devicesTable)
	res, err := r.db.ExecContext(ctx, query, device.VisibleID, device.Name, device.UpdatedAt.UTC(), device.ID)
	if err != nil {
		if r.opts.isConflict(err) {
			return registry.ErrDuplicateVisibleID
		}
		return err
	}
	return expectRow(res, registry.ErrDeviceNotFound)
}

// DeleteDevice removes a device. Sensors and readings go with it through ON DELETE CASCADE.
func (r *DeviceRepository) DeleteDevice(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.opts.devicesTable), id)
	if err != nil {
		return err
	}
	return expectRow(res, registry.ErrDeviceNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (registry.Device, error) {
	var device registry.Device
	if err := row.Scan(&device.ID, &device.VisibleID, &device.Name, &device.CreatedAt, &device.UpdatedAt); err != nil {
		return registry.Device{}, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return device, nil
}

func expectRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
