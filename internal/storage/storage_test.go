package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"sensorhub/internal/audit"
	"sensorhub/internal/config"
	ingestionapp "sensorhub/internal/ingestion/application"
	ingestion "sensorhub/internal/ingestion/domain"
	registryapp "sensorhub/internal/registry/application"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

func TestMemoryBackend(t *testing.T) {
	backend, err := Open(context.Background(), config.Config{StorageDriver: config.DriverMemory}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()
	if backend.DB != nil {
		t.Fatalf("memory backend should not hold a database")
	}
	exerciseBackend(t, backend)
	exerciseServices(t, backend)
}

func TestSQLiteBackend(t *testing.T) {
	cfg := config.Config{
		StorageDriver: config.DriverSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "sensorhub.db"),
	}
	backend, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()
	exerciseBackend(t, backend)
	exerciseServices(t, backend)
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	cfg := config.Config{StorageDriver: config.DriverPostgres, DatabaseURL: dsn, AutoMigrate: true}
	backend, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()
	exerciseBackend(t, backend)
	exerciseServices(t, backend)
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{StorageDriver: "cassandra"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// exerciseServices registers a device through the registry service and runs a mixed batch
// through the ingestion pipeline on top of backend.
func exerciseServices(t *testing.T, backend *Backend) {
	t.Helper()
	ctx := context.Background()
	if _, err := backend.Audit.Clear(ctx); err != nil {
		t.Fatalf("clear audit: %v", err)
	}

	clock := fixedClock{now: time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)}
	registrySvc, err := registryapp.NewService(backend.Devices, backend.Sensors, backend.Readings, registryapp.WithClock(clock))
	if err != nil {
		t.Fatalf("registry service: %v", err)
	}
	visibleID := "DEV-" + uuid.NewString()[:8]
	device, err := registrySvc.CreateDevice(ctx, registryapp.DeviceInput{VisibleID: visibleID, Name: "Lab"})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	defer func() { _ = backend.Devices.DeleteDevice(ctx, device.ID) }()

	initial := 19.0
	temp, err := registrySvc.CreateSensor(ctx, registryapp.SensorInput{Name: "Air temperature", Type: registry.SensorTypeTemperature, Channel: 1, DeviceID: device.ID, InitialValue: &initial})
	if err != nil {
		t.Fatalf("create temperature sensor: %v", err)
	}
	stored, err := backend.Sensors.GetSensor(ctx, temp.ID)
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if stored.CurrentValue == nil || *stored.CurrentValue != initial || stored.LastTimestamp == nil || !stored.LastTimestamp.Equal(clock.now) {
		t.Fatalf("initial value not stored: %+v", stored)
	}
	if _, err := registrySvc.CreateSensor(ctx, registryapp.SensorInput{Name: "Air CO2", Type: registry.SensorTypeCO2, Channel: 1, DeviceID: device.ID}); err != nil {
		t.Fatalf("create co2 sensor: %v", err)
	}
	if _, err := registrySvc.UpdateDevice(ctx, device.ID, registryapp.DeviceInput{VisibleID: visibleID, Name: "Lab 2"}); err != nil {
		t.Fatalf("update device: %v", err)
	}

	ingestSvc, err := ingestionapp.NewService(ingestion.DefaultMetricTable(), backend.Devices, backend.Sensors, backend.Readings, backend.Audit)
	if err != nil {
		t.Fatalf("ingestion service: %v", err)
	}
	body := `{
	"device_id": "` + visibleID + `",
	"iso_timestamp": "2024-01-01T00:00:00Z",
	"readings": [
		{"channel": 1, "iso_timestamp": "2024-01-01T00:00:00Z", "temperature": 21.5, "co2": 450},
		{"channel": 2, "iso_timestamp": "2024-01-01T00:00:05Z", "temperature": 22.0}
	]
}`
	meta := ingestionapp.RequestMeta{SourceAddress: "10.0.0.7", Method: http.MethodPost, Path: "/api/ingest-readings", Source: "http"}
	result := ingestSvc.Ingest(ctx, []byte(body), meta)
	if result.Status != http.StatusMultiStatus || !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Processed != 2 || result.Attempted != 3 {
		t.Fatalf("processed=%d attempted=%d", result.Processed, result.Attempted)
	}
	if len(result.ItemErrors) != 1 || result.ItemErrors[0].Channel != 2 || result.ItemErrors[0].Kind != ingestion.KindSensorNotFound {
		t.Fatalf("item errors: %+v", result.ItemErrors)
	}

	latest, err := backend.Sensors.GetSensor(ctx, temp.ID)
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if latest.CurrentValue == nil || *latest.CurrentValue != 21.5 {
		t.Fatalf("temperature not stored: %v", latest.CurrentValue)
	}
	if latest.LastTimestamp == nil || !latest.LastTimestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", latest.LastTimestamp)
	}
	history, err := backend.Readings.ListRecentReadings(ctx, temp.ID, 10)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(history) != 2 || history[0].Value != initial || history[1].Value != 21.5 {
		t.Fatalf("unexpected history: %+v", history)
	}

	entries, err := backend.Audit.List(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorKind != string(ingestion.KindPartialIngestion) || entries[0].StatusCode != http.StatusMultiStatus {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
	if entries[0].DeviceIDAttempted == nil || *entries[0].DeviceIDAttempted != visibleID {
		t.Fatalf("device attempted: %v", entries[0].DeviceIDAttempted)
	}
	if _, err := backend.Audit.Clear(ctx); err != nil {
		t.Fatalf("clear audit: %v", err)
	}
}

func exerciseBackend(t *testing.T, backend *Backend) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	suffix := uuid.NewString()[:8]

	device := registry.Device{ID: uuid.NewString(), VisibleID: "DEV-" + suffix, Name: "Greenhouse", CreatedAt: now, UpdatedAt: now}
	if err := backend.Devices.CreateDevice(ctx, &device); err != nil {
		t.Fatalf("create device: %v", err)
	}
	dup := registry.Device{ID: uuid.NewString(), VisibleID: device.VisibleID, Name: "Copy", CreatedAt: now, UpdatedAt: now}
	if err := backend.Devices.CreateDevice(ctx, &dup); !errors.Is(err, registry.ErrDuplicateVisibleID) {
		t.Fatalf("expected duplicate visible id, got %v", err)
	}
	found, err := backend.Devices.FindDeviceByVisibleID(ctx, device.VisibleID)
	if err != nil || found.ID != device.ID {
		t.Fatalf("find by visible id: %v %+v", err, found)
	}
	if _, err := backend.Devices.FindDeviceByVisibleID(ctx, "missing-"+suffix); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found, got %v", err)
	}

	temp := registry.Sensor{ID: uuid.NewString(), Name: "Air", Type: registry.SensorTypeTemperature, Channel: 1, Unit: "°C", DeviceID: device.ID}
	co2 := registry.Sensor{ID: uuid.NewString(), Name: "CO2", Type: registry.SensorTypeCO2, Channel: 1, Unit: "ppm", DeviceID: device.ID}
	for _, sensor := range []*registry.Sensor{&temp, &co2} {
		if err := backend.Sensors.CreateSensor(ctx, sensor); err != nil {
			t.Fatalf("create sensor %s: %v", sensor.Name, err)
		}
	}
	clash := temp
	clash.ID = uuid.NewString()
	if err := backend.Sensors.CreateSensor(ctx, &clash); !errors.Is(err, registry.ErrDuplicateSensor) {
		t.Fatalf("expected duplicate sensor, got %v", err)
	}

	orphan := registry.Sensor{ID: uuid.NewString(), Name: "Orphan", Type: registry.SensorTypeLight, Channel: 2, Unit: "lux", DeviceID: uuid.NewString()}
	if err := backend.Sensors.CreateSensor(ctx, &orphan); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found for orphan sensor, got %v", err)
	}

	onChannel, err := backend.Sensors.ListSensorsByChannel(ctx, device.ID, 1)
	if err != nil {
		t.Fatalf("list by channel: %v", err)
	}
	if len(onChannel) != 2 {
		t.Fatalf("expected 2 sensors on channel 1, got %d", len(onChannel))
	}
	got, err := backend.Sensors.FindSensor(ctx, device.ID, 1, registry.SensorTypeCO2)
	if err != nil || got.ID != co2.ID {
		t.Fatalf("find sensor: %v %+v", err, got)
	}
	if _, err := backend.Sensors.FindSensor(ctx, device.ID, 2, registry.SensorTypeCO2); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found, got %v", err)
	}

	for i, value := range []float64{20.5, 21, 21.5} {
		reading := telemetry.Reading{SensorID: temp.ID, Timestamp: now.Add(time.Duration(i) * time.Minute), Value: value}
		if err := backend.Readings.RecordReading(ctx, reading); err != nil {
			t.Fatalf("record reading: %v", err)
		}
	}
	if err := backend.Readings.RecordReading(ctx, telemetry.Reading{SensorID: uuid.NewString(), Timestamp: now, Value: 1}); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found for unknown sensor, got %v", err)
	}

	latest, err := backend.Sensors.GetSensor(ctx, temp.ID)
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if latest.CurrentValue == nil || *latest.CurrentValue != 21.5 {
		t.Fatalf("unexpected current value: %v", latest.CurrentValue)
	}
	if latest.LastTimestamp == nil || !latest.LastTimestamp.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("unexpected last timestamp: %v", latest.LastTimestamp)
	}

	recent, err := backend.Readings.ListRecentReadings(ctx, temp.ID, 2)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(recent) != 2 || recent[0].Value != 21 || recent[1].Value != 21.5 {
		t.Fatalf("expected last two readings oldest first, got %+v", recent)
	}

	exerciseUpdates(t, backend, device, temp, co2)

	if err := backend.Devices.DeleteDevice(ctx, device.ID); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if _, err := backend.Sensors.GetSensor(ctx, temp.ID); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensors removed with device, got %v", err)
	}
	if err := backend.Devices.DeleteDevice(ctx, device.ID); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found on second delete, got %v", err)
	}

	exerciseAudit(t, backend.Audit, now)
}

// exerciseUpdates renames the device and moves temp to another channel after readings exist.
func exerciseUpdates(t *testing.T, backend *Backend, device registry.Device, temp, co2 registry.Sensor) {
	t.Helper()
	ctx := context.Background()

	other := registry.Device{ID: uuid.NewString(), VisibleID: device.VisibleID + "-other", Name: "Shed", CreatedAt: device.CreatedAt, UpdatedAt: device.UpdatedAt}
	if err := backend.Devices.CreateDevice(ctx, &other); err != nil {
		t.Fatalf("create other device: %v", err)
	}
	defer func() { _ = backend.Devices.DeleteDevice(ctx, other.ID) }()

	renamed := device
	renamed.VisibleID = device.VisibleID + "-east"
	renamed.Name = "Greenhouse East"
	renamed.UpdatedAt = device.UpdatedAt.Add(time.Hour)
	if err := backend.Devices.UpdateDevice(ctx, &renamed); err != nil {
		t.Fatalf("update device: %v", err)
	}
	stored, err := backend.Devices.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if stored.VisibleID != renamed.VisibleID || stored.Name != "Greenhouse East" {
		t.Fatalf("device not updated: %+v", stored)
	}
	if !stored.UpdatedAt.Equal(renamed.UpdatedAt) || !stored.CreatedAt.Equal(device.CreatedAt) {
		t.Fatalf("unexpected device times: created %v updated %v", stored.CreatedAt, stored.UpdatedAt)
	}
	if found, err := backend.Devices.FindDeviceByVisibleID(ctx, renamed.VisibleID); err != nil || found.ID != device.ID {
		t.Fatalf("find renamed device: %v %+v", err, found)
	}
	if _, err := backend.Devices.FindDeviceByVisibleID(ctx, device.VisibleID); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected old visible id released, got %v", err)
	}
	clash := renamed
	clash.VisibleID = other.VisibleID
	if err := backend.Devices.UpdateDevice(ctx, &clash); !errors.Is(err, registry.ErrDuplicateVisibleID) {
		t.Fatalf("expected duplicate visible id on update, got %v", err)
	}
	missing := renamed
	missing.ID = uuid.NewString()
	missing.VisibleID = "ghost-" + device.VisibleID
	if err := backend.Devices.UpdateDevice(ctx, &missing); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found on update, got %v", err)
	}

	moved := temp
	moved.Name = "Air (north wall)"
	moved.Channel = 3
	moved.Unit = "°F"
	if err := backend.Sensors.UpdateSensor(ctx, &moved); err != nil {
		t.Fatalf("update sensor: %v", err)
	}
	got, err := backend.Sensors.GetSensor(ctx, temp.ID)
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if got.Name != "Air (north wall)" || got.Channel != 3 || got.Unit != "°F" || got.Type != registry.SensorTypeTemperature || got.DeviceID != device.ID {
		t.Fatalf("sensor not updated: %+v", got)
	}
	if got.CurrentValue == nil || *got.CurrentValue != 21.5 {
		t.Fatalf("update dropped current value: %v", got.CurrentValue)
	}
	onChannel, err := backend.Sensors.ListSensorsByChannel(ctx, device.ID, 3)
	if err != nil || len(onChannel) != 1 || onChannel[0].ID != temp.ID {
		t.Fatalf("list moved sensor: %v %+v", err, onChannel)
	}

	rehomed := moved
	rehomed.DeviceID = other.ID
	if err := backend.Sensors.UpdateSensor(ctx, &rehomed); err != nil {
		t.Fatalf("move sensor to other device: %v", err)
	}
	if got, err := backend.Sensors.FindSensor(ctx, other.ID, 3, registry.SensorTypeTemperature); err != nil || got.ID != temp.ID {
		t.Fatalf("find rehomed sensor: %v %+v", err, got)
	}
	if err := backend.Sensors.UpdateSensor(ctx, &moved); err != nil {
		t.Fatalf("move sensor back: %v", err)
	}

	slotClash := co2
	slotClash.Type = registry.SensorTypeTemperature
	slotClash.Channel = 3
	if err := backend.Sensors.UpdateSensor(ctx, &slotClash); !errors.Is(err, registry.ErrDuplicateSensor) {
		t.Fatalf("expected duplicate sensor on update, got %v", err)
	}
	orphaned := co2
	orphaned.DeviceID = uuid.NewString()
	if err := backend.Sensors.UpdateSensor(ctx, &orphaned); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found on sensor update, got %v", err)
	}
	ghost := co2
	ghost.ID = uuid.NewString()
	ghost.Channel = 4
	if err := backend.Sensors.UpdateSensor(ctx, &ghost); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found on update, got %v", err)
	}
}

func exerciseAudit(t *testing.T, store audit.Store, now time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	attempted := "DEV-404"
	payload := `{"device_id":"DEV-404"}`
	older := audit.Entry{
		Timestamp:         now.Add(-time.Minute),
		SourceAddress:     "10.0.0.1",
		Method:            "POST",
		Path:              "/api/v1/ingest",
		DeviceIDAttempted: &attempted,
		PayloadReceived:   &payload,
		ErrorKind:         "DeviceNotFound",
		ErrorDetails:      audit.Details("Device 'DEV-404' not found."),
		StatusCode:        404,
	}
	newer := audit.Entry{
		Timestamp:    now,
		Method:       "POST",
		Path:         "/api/v1/ingest",
		ErrorKind:    "InvalidJson",
		ErrorDetails: audit.Details(map[string][]string{"payload": {"Malformed JSON payload."}}),
		StatusCode:   400,
	}
	for _, entry := range []audit.Entry{older, newer} {
		if err := store.Log(ctx, entry); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ErrorKind != "InvalidJson" || entries[1].ErrorKind != "DeviceNotFound" {
		t.Fatalf("expected newest first, got %s then %s", entries[0].ErrorKind, entries[1].ErrorKind)
	}
	if entries[0].DeviceIDAttempted != nil {
		t.Fatalf("expected no attempted device id")
	}
	if entries[1].DeviceIDAttempted == nil || *entries[1].DeviceIDAttempted != attempted {
		t.Fatalf("unexpected attempted device id: %v", entries[1].DeviceIDAttempted)
	}
	if got := audit.DetailsText(entries[1].ErrorDetails); got != "Device 'DEV-404' not found." {
		t.Fatalf("unexpected details: %q", got)
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if entries, _ := store.List(ctx, 10); len(entries) != 0 {
		t.Fatalf("expected empty log, got %d", len(entries))
	}
}
