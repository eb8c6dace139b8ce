package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sensor is a measuring input on one channel of a device.
type Sensor struct {
	ID       string
	Name     string
	Type     SensorType
	Channel  int
	Unit     string
	DeviceID string

	CurrentValue  *float64
	LastTimestamp *time.Time
}

// Normalize trims operator input and fills the default unit.
func (s *Sensor) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Unit = strings.TrimSpace(s.Unit)
	if s.Unit == "" {
		s.Unit = s.Type.DefaultUnit()
	}
}

// Validate checks sensor invariants.
func (s Sensor) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSensor)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: sensor name is required", ErrInvalidSensor)
	}
	if !s.Type.IsValid() {
		return fmt.Errorf("%w: unsupported type %q, expected one of: %s", ErrInvalidSensor, s.Type, SensorTypeNames())
	}
	if !ValidChannel(s.Channel) {
		return fmt.Errorf("%w: channel must be between %d and %d", ErrInvalidSensor, MinChannel, MaxChannel)
	}
	if s.Unit == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidSensor)
	}
	if s.DeviceID == "" {
		return fmt.Errorf("%w: device assignment is required", ErrInvalidSensor)
	}
	return nil
}

// SensorRepository manages sensor persistence.
// Lookups return ErrSensorNotFound when nothing matches.
type SensorRepository interface {
	GetSensor(ctx context.Context, id string) (*Sensor, error)
	FindSensor(ctx context.Context, deviceID string, channel int, sensorType SensorType) (*Sensor, error)
	ListSensorsByChannel(ctx context.Context, deviceID string, channel int) ([]Sensor, error)
	ListSensors(ctx context.Context) ([]Sensor, error)
	CreateSensor(ctx context.Context, sensor *Sensor) error
	UpdateSensor(ctx context.Context, sensor *Sensor) error
	DeleteSensor(ctx context.Context, id string) error
}

// Clone copies s including its latest-value pointers.
func (s Sensor) Clone() Sensor {
	if s.CurrentValue != nil {
		v := *s.CurrentValue
		s.CurrentValue = &v
	}
	if s.LastTimestamp != nil {
		ts := *s.LastTimestamp
		s.LastTimestamp = &ts
	}
	return s
}

// SortSensors orders sensors by device, then case-insensitive name, then channel.
func SortSensors(sensors []Sensor) {
	sort.SliceStable(sensors, func(i, j int) bool {
		a, b := sensors[i], sensors[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		return a.Channel < b.Channel
	})
}
