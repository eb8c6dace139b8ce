package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sensorhub/internal/eventing"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

// Publisher receives invalidation events.
type Publisher interface {
	Publish(ctx context.Context, event eventing.Event) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// DeviceInput is the operator-editable part of a device.
type DeviceInput struct {
	VisibleID string
	Name      string
}

// SensorInput is the operator-editable part of a sensor.
type SensorInput struct {
	Name     string
	Type     registry.SensorType
	Channel  int
	Unit     string
	DeviceID string
	// InitialValue, when set on create, is recorded as the sensor's first reading.
	InitialValue *float64
}

// Service manages device and sensor registrations.
type Service struct {
	devices   registry.DeviceRepository
	sensors   registry.SensorRepository
	readings  telemetry.ReadingRecorder
	publisher Publisher
	logger    *zap.Logger
	clock     Clock
	newID     func() string
}

// Option customizes the service.
type Option func(*Service)

// WithPublisher assigns the invalidation publisher.
func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides internal id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService constructs a registry service.
func NewService(devices registry.DeviceRepository, sensors registry.SensorRepository, readings telemetry.ReadingRecorder, opts ...Option) (*Service, error) {
	if devices == nil || sensors == nil {
		return nil, errors.New("registry: nil repository")
	}
	if readings == nil {
		return nil, errors.New("registry: nil reading recorder")
	}
	service := &Service{
		devices:  devices,
		sensors:  sensors,
		readings: readings,
		logger:   zap.NewNop(),
		clock:    systemClock{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// ListDevices returns devices ordered by name.
func (s *Service) ListDevices(ctx context.Context) ([]registry.Device, error) {
	return s.devices.ListDevices(ctx)
}

// GetDevice loads one device.
func (s *Service) GetDevice(ctx context.Context, id string) (*registry.Device, error) {
	return s.devices.GetDevice(ctx, id)
}

// CreateDevice registers a device under a unique visible id.
func (s *Service) CreateDevice(ctx context.Context, in DeviceInput) (*registry.Device, error) {
	now := s.clock.Now()
	device := registry.Device{
		ID:        s.newID(),
		VisibleID: in.VisibleID,
		Name:      in.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	device.Normalize()
	if err := device.Validate(); err != nil {
		return nil, err
	}
	if err := s.devices.CreateDevice(ctx, &device); err != nil {
		return nil, err
	}
	s.changed(ctx, eventing.EntityDevice, device.ID, eventing.ActionCreated)
	return &device, nil
}

// UpdateDevice changes a device's visible id and name.
func (s *Service) UpdateDevice(ctx context.Context, id string, in DeviceInput) (*registry.Device, error) {
	existing, err := s.devices.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	device := *existing
	device.VisibleID = in.VisibleID
	device.Name = in.Name
	device.UpdatedAt = s.clock.Now()
	device.Normalize()
	if err := device.Validate(); err != nil {
		return nil, err
	}
	if err := s.devices.UpdateDevice(ctx, &device); err != nil {
		return nil, err
	}
	s.changed(ctx, eventing.EntityDevice, device.ID, eventing.ActionUpdated)
	return &device, nil
}

// DeleteDevice removes a device, its sensors and their readings.
func (s *Service) DeleteDevice(ctx context.Context, id string) error {
	if err := s.devices.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, eventing.EntityDevice, id, eventing.ActionDeleted)
	return nil
}

// ListSensors returns sensors ordered by device and name.
func (s *Service) ListSensors(ctx context.Context) ([]registry.Sensor, error) {
	return s.sensors.ListSensors(ctx)
}

// GetSensor loads one sensor.
func (s *Service) GetSensor(ctx context.Context, id string) (*registry.Sensor, error) {
	return s.sensors.GetSensor(ctx, id)
}

// CreateSensor registers a sensor on a device channel.
func (s *Service) CreateSensor(ctx context.Context, in SensorInput) (*registry.Sensor, error) {
	sensor := registry.Sensor{
		ID:       s.newID(),
		Name:     in.Name,
		Type:     in.Type,
		Channel:  in.Channel,
		Unit:     in.Unit,
		DeviceID: in.DeviceID,
	}
	sensor.Normalize()
	if err := sensor.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.devices.GetDevice(ctx, sensor.DeviceID); err != nil {
		return nil, err
	}
	if err := s.sensors.CreateSensor(ctx, &sensor); err != nil {
		return nil, err
	}
	if in.InitialValue != nil {
		reading := telemetry.Reading{SensorID: sensor.ID, Timestamp: s.clock.Now(), Value: *in.InitialValue}
		if err := s.readings.RecordReading(ctx, reading); err != nil {
			if rollbackErr := s.sensors.DeleteSensor(context.WithoutCancel(ctx), sensor.ID); rollbackErr != nil {
				s.logger.Error("registry sensor rollback failed",
					zap.String("sensor_id", sensor.ID),
					zap.Error(rollbackErr),
				)
				return nil, errors.Join(fmt.Errorf("registry: record initial value: %w", err), rollbackErr)
			}
			return nil, fmt.Errorf("registry: record initial value: %w", err)
		}
		value, ts := reading.Value, reading.Timestamp
		sensor.CurrentValue = &value
		sensor.LastTimestamp = &ts
	}
	s.changed(ctx, eventing.EntitySensor, sensor.ID, eventing.ActionCreated)
	return &sensor, nil
}

// UpdateSensor changes a sensor's registration. Readings and the latest value are kept.
func (s *Service) UpdateSensor(ctx context.Context, id string, in SensorInput) (*registry.Sensor, error) {
	existing, err := s.sensors.GetSensor(ctx, id)
	if err != nil {
		return nil, err
	}
	sensor := existing.Clone()
	sensor.Name = in.Name
	sensor.Type = in.Type
	sensor.Channel = in.Channel
	sensor.Unit = in.Unit
	sensor.DeviceID = in.DeviceID
	sensor.Normalize()
	if err := sensor.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.devices.GetDevice(ctx, sensor.DeviceID); err != nil {
		return nil, err
	}
	if err := s.sensors.UpdateSensor(ctx, &sensor); err != nil {
		return nil, err
	}
	s.changed(ctx, eventing.EntitySensor, sensor.ID, eventing.ActionUpdated)
	return &sensor, nil
}

// DeleteSensor removes a sensor and its readings.
func (s *Service) DeleteSensor(ctx context.Context, id string) error {
	if err := s.sensors.DeleteSensor(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, eventing.EntitySensor, id, eventing.ActionDeleted)
	return nil
}

func (s *Service) changed(ctx context.Context, entity, id, action string) {
	if s.publisher == nil {
		return
	}
	event := eventing.RegistryChanged{
		EventID:    eventing.NewEventID(),
		Entity:     entity,
		EntityID:   id,
		Action:     action,
		OccurredAt: s.clock.Now(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("registry event publish failed",
			zap.String("entity", entity),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
