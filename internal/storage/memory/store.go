package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sensorhub/internal/audit"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

// Store is an in-memory implementation of every repository, for demos and tests.
// Deleting a device removes its sensors; deleting a sensor removes its readings.
type Store struct {
	mu       sync.RWMutex
	devices  map[string]registry.Device
	sensors  map[string]registry.Sensor
	readings map[string][]telemetry.Reading
	entries  []audit.Entry
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		devices:  make(map[string]registry.Device),
		sensors:  make(map[string]registry.Sensor),
		readings: make(map[string][]telemetry.Reading),
	}
}

// GetDevice loads a device by internal id.
func (s *Store) GetDevice(ctx context.Context, id string) (*registry.Device, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.devices[id]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	return &device, nil
}

// FindDeviceByVisibleID loads a device by its operator-facing id.
func (s *Store) FindDeviceByVisibleID(ctx context.Context, visibleID string) (*registry.Device, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, device := range s.devices {
		if device.VisibleID == visibleID {
			found := device
			return &found, nil
		}
	}
	return nil, registry.ErrDeviceNotFound
}

// ListDevices returns every device ordered by name.
func (s *Store) ListDevices(ctx context.Context) ([]registry.Device, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]registry.Device, 0, len(s.devices))
	for _, device := range s.devices {
		out = append(out, device)
	}
	s.mu.RUnlock()
	registry.SortDevices(out)
	return out, nil
}

// CreateDevice inserts a device.
func (s *Store) CreateDevice(ctx context.Context, device *registry.Device) error {
	_ = ctx
	if device == nil {
		return registry.ErrInvalidDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[device.ID]; ok {
		return errors.New("memory: device id already exists")
	}
	if s.visibleIDTaken(device.VisibleID, device.ID) {
		return registry.ErrDuplicateVisibleID
	}
	s.devices[device.ID] = *device
	return nil
}

// UpdateDevice replaces a device.
func (s *Store) UpdateDevice(ctx context.Context, device *registry.Device) error {
	_ = ctx
	if device == nil {
		return registry.ErrInvalidDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.devices[device.ID]
	if !ok {
		return registry.ErrDeviceNotFound
	}
	if s.visibleIDTaken(device.VisibleID, device.ID) {
		return registry.ErrDuplicateVisibleID
	}
	updated := *device
	updated.CreatedAt = existing.CreatedAt
	s.devices[device.ID] = updated
	return nil
}

// DeleteDevice removes a device with its sensors and their readings.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return registry.ErrDeviceNotFound
	}
	delete(s.devices, id)
	for sensorID, sensor := range s.sensors {
		if sensor.DeviceID == id {
			delete(s.sensors, sensorID)
			delete(s.readings, sensorID)
		}
	}
	return nil
}

func (s *Store) visibleIDTaken(visibleID, exceptID string) bool {
	for id, device := range s.devices {
		if id != exceptID && device.VisibleID == visibleID {
			return true
		}
	}
	return false
}

// GetSensor loads a sensor by internal id.
func (s *Store) GetSensor(ctx context.Context, id string) (*registry.Sensor, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.sensors[id]
	if !ok {
		return nil, registry.ErrSensorNotFound
	}
	clone := sensor.Clone()
	return &clone, nil
}

// FindSensor resolves the sensor of one type on a device channel.
func (s *Store) FindSensor(ctx context.Context, deviceID string, channel int, sensorType registry.SensorType) (*registry.Sensor, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sensor := range s.sensors {
		if sensor.DeviceID == deviceID && sensor.Channel == channel && sensor.Type == sensorType {
			clone := sensor.Clone()
			return &clone, nil
		}
	}
	return nil, registry.ErrSensorNotFound
}

// ListSensorsByChannel returns the sensors wired to one device channel.
func (s *Store) ListSensorsByChannel(ctx context.Context, deviceID string, channel int) ([]registry.Sensor, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]registry.Sensor, 0, 1)
	for _, sensor := range s.sensors {
		if sensor.DeviceID == deviceID && sensor.Channel == channel {
			out = append(out, sensor.Clone())
		}
	}
	s.mu.RUnlock()
	registry.SortSensors(out)
	return out, nil
}

// ListSensors returns every sensor ordered by device and name.
func (s *Store) ListSensors(ctx context.Context) ([]registry.Sensor, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]registry.Sensor, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		out = append(out, sensor.Clone())
	}
	s.mu.RUnlock()
	registry.SortSensors(out)
	return out, nil
}

// CreateSensor inserts a sensor on an existing device.
func (s *Store) CreateSensor(ctx context.Context, sensor *registry.Sensor) error {
	_ = ctx
	if sensor == nil {
		return registry.ErrInvalidSensor
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[sensor.DeviceID]; !ok {
		return registry.ErrDeviceNotFound
	}
	if _, ok := s.sensors[sensor.ID]; ok {
		return errors.New("memory: sensor id already exists")
	}
	if s.slotTaken(*sensor) {
		return registry.ErrDuplicateSensor
	}
	s.sensors[sensor.ID] = sensor.Clone()
	return nil
}

// UpdateSensor replaces a sensor's registration. Latest value and timestamp are kept.
func (s *Store) UpdateSensor(ctx context.Context, sensor *registry.Sensor) error {
	_ = ctx
	if sensor == nil {
		return registry.ErrInvalidSensor
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sensors[sensor.ID]
	if !ok {
		return registry.ErrSensorNotFound
	}
	if _, ok := s.devices[sensor.DeviceID]; !ok {
		return registry.ErrDeviceNotFound
	}
	if s.slotTaken(*sensor) {
		return registry.ErrDuplicateSensor
	}
	updated := sensor.Clone()
	updated.CurrentValue = existing.CurrentValue
	updated.LastTimestamp = existing.LastTimestamp
	s.sensors[sensor.ID] = updated
	return nil
}

// DeleteSensor removes a sensor and its readings.
func (s *Store) DeleteSensor(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sensors[id]; !ok {
		return registry.ErrSensorNotFound
	}
	delete(s.sensors, id)
	delete(s.readings, id)
	return nil
}

func (s *Store) slotTaken(sensor registry.Sensor) bool {
	for id, other := range s.sensors {
		if id != sensor.ID && other.DeviceID == sensor.DeviceID && other.Channel == sensor.Channel && other.Type == sensor.Type {
			return true
		}
	}
	return false
}

// AppendReading stores a reading without touching the sensor's latest state.
func (s *Store) AppendReading(ctx context.Context, reading telemetry.Reading) error {
	_ = ctx
	if err := reading.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sensors[reading.SensorID]; !ok {
		return registry.ErrSensorNotFound
	}
	s.readings[reading.SensorID] = append(s.readings[reading.SensorID], reading)
	return nil
}

// RecordReading appends a reading and moves the sensor's latest value to it under one lock.
func (s *Store) RecordReading(ctx context.Context, reading telemetry.Reading) error {
	_ = ctx
	if err := reading.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor, ok := s.sensors[reading.SensorID]
	if !ok {
		return registry.ErrSensorNotFound
	}
	s.readings[reading.SensorID] = append(s.readings[reading.SensorID], reading)
	value := reading.Value
	ts := reading.Timestamp
	sensor.CurrentValue = &value
	sensor.LastTimestamp = &ts
	s.sensors[reading.SensorID] = sensor
	return nil
}

// ListRecentReadings returns up to limit of the newest readings, oldest first.
func (s *Store) ListRecentReadings(ctx context.Context, sensorID string, limit int) ([]telemetry.Reading, error) {
	_ = ctx
	s.mu.RLock()
	all := append([]telemetry.Reading(nil), s.readings[sensorID]...)
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// CountReadings reports how many readings a sensor has.
func (s *Store) CountReadings(sensorID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings[sensorID])
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, entry audit.Entry) error {
	_ = ctx
	entry = audit.Prepare(entry, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns up to limit audit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]audit.Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear removes every audit entry.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := int64(len(s.entries))
	s.entries = nil
	return removed, nil
}
