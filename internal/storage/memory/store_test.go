package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"sensorhub/internal/audit"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

func seed(t *testing.T, store *Store) (registry.Device, registry.Sensor) {
	t.Helper()
	ctx := context.Background()
	device := registry.Device{ID: "dev-1", VisibleID: "DEV-100", Name: "Greenhouse"}
	if err := store.CreateDevice(ctx, &device); err != nil {
		t.Fatalf("create device: %v", err)
	}
	sensor := registry.Sensor{ID: "sen-1", Name: "Air", Type: registry.SensorTypeTemperature, Channel: 1, Unit: "°C", DeviceID: device.ID}
	if err := store.CreateSensor(ctx, &sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}
	return device, sensor
}

func TestStoreUniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	device, sensor := seed(t, store)

	dup := registry.Device{ID: "dev-2", VisibleID: device.VisibleID, Name: "Other"}
	if err := store.CreateDevice(ctx, &dup); !errors.Is(err, registry.ErrDuplicateVisibleID) {
		t.Fatalf("expected duplicate visible id, got %v", err)
	}

	sameSlot := sensor
	sameSlot.ID = "sen-2"
	if err := store.CreateSensor(ctx, &sameSlot); !errors.Is(err, registry.ErrDuplicateSensor) {
		t.Fatalf("expected duplicate sensor, got %v", err)
	}

	otherType := sensor
	otherType.ID = "sen-3"
	otherType.Type = registry.SensorTypeCO2
	otherType.Unit = "ppm"
	if err := store.CreateSensor(ctx, &otherType); err != nil {
		t.Fatalf("second type on same channel: %v", err)
	}

	orphan := registry.Sensor{ID: "sen-4", Name: "Orphan", Type: registry.SensorTypeLight, Channel: 2, Unit: "lux", DeviceID: "missing"}
	if err := store.CreateSensor(ctx, &orphan); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected device not found, got %v", err)
	}
}

func TestStoreRecordReadingUpdatesLatest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, sensor := seed(t, store)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, value := range []float64{20, 21, 22} {
		reading := telemetry.Reading{SensorID: sensor.ID, Timestamp: base.Add(time.Duration(i) * time.Minute), Value: value}
		if err := store.RecordReading(ctx, reading); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.GetSensor(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if got.CurrentValue == nil || *got.CurrentValue != 22 {
		t.Fatalf("unexpected current value: %v", got.CurrentValue)
	}
	if got.LastTimestamp == nil || !got.LastTimestamp.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected last timestamp: %v", got.LastTimestamp)
	}

	recent, err := store.ListRecentReadings(ctx, sensor.ID, 2)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(recent) != 2 || recent[0].Value != 21 || recent[1].Value != 22 {
		t.Fatalf("unexpected recent readings: %+v", recent)
	}

	if err := store.RecordReading(ctx, telemetry.Reading{SensorID: "missing", Timestamp: base, Value: 1}); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found, got %v", err)
	}
}

func TestStoreDeleteDeviceCascades(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	device, sensor := seed(t, store)
	if err := store.RecordReading(ctx, telemetry.Reading{SensorID: sensor.ID, Timestamp: time.Now(), Value: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.DeleteDevice(ctx, device.ID); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if _, err := store.GetSensor(ctx, sensor.ID); !errors.Is(err, registry.ErrSensorNotFound) {
		t.Fatalf("expected sensor removed, got %v", err)
	}
	if store.CountReadings(sensor.ID) != 0 {
		t.Fatalf("expected readings removed")
	}
	if err := store.DeleteDevice(ctx, device.ID); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreAuditNewestFirstAndClear(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, kind := range []string{"InvalidJson", "DeviceNotFound", "NoValidMetrics"} {
		entry := audit.Prepare(audit.Entry{ErrorKind: kind, StatusCode: 400}, base.Add(time.Duration(i)*time.Second))
		if err := store.Log(ctx, entry); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	entries, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ErrorKind != "NoValidMetrics" || entries[1].ErrorKind != "DeviceNotFound" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	removed, err := store.Clear(ctx)
	if err != nil || removed != 3 {
		t.Fatalf("clear: removed=%d err=%v", removed, err)
	}
	entries, _ = store.List(ctx, 10)
	if len(entries) != 0 {
		t.Fatalf("expected empty log, got %d", len(entries))
	}
}
