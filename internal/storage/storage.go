package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sensorhub/internal/audit"
	"sensorhub/internal/config"
	registry "sensorhub/internal/registry/domain"
	registrypg "sensorhub/internal/registry/infrastructure/postgres"
	"sensorhub/internal/storage/memory"
	"sensorhub/internal/storage/postgres"
	"sensorhub/internal/storage/sqlite"
	telemetry "sensorhub/internal/telemetry/domain"
	telemetrypg "sensorhub/internal/telemetry/infrastructure/postgres"
)

// Backend bundles the repositories of one storage driver.
type Backend struct {
	Driver   string
	Devices  registry.DeviceRepository
	Sensors  registry.SensorRepository
	Readings telemetry.ReadingRepository
	Audit    audit.Store
	// DB is nil for the memory driver.
	DB *sql.DB
}

// Close releases the database handle.
func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// Open builds the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.StorageDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver))
		return &Backend{Driver: cfg.StorageDriver, Devices: store, Sensors: store, Readings: store, Audit: store}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver), zap.String("path", cfg.SQLitePath))
		return NewSQL(cfg.StorageDriver, db, registrypg.WithConflictDetector(sqlite.IsUniqueViolation),
			registrypg.WithForeignKeyDetector(sqlite.IsForeignKeyViolation),
		), nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver), zap.Bool("auto_migrate", cfg.AutoMigrate))
		return NewSQL(cfg.StorageDriver, db), nil

	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}

// NewSQL wires the SQL repositories over an open database.
func NewSQL(driver string, db *sql.DB, opts ...registrypg.Option) *Backend {
	return &Backend{
		Driver:   driver,
		Devices:  registrypg.NewDeviceRepository(db, opts...),
		Sensors:  registrypg.NewSensorRepository(db, opts...),
		Readings: telemetrypg.NewReadingRepository(db),
		Audit:    audit.NewRepository(db),
		DB:       db,
	}
}
