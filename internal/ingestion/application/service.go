package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sensorhub/internal/audit"
	"sensorhub/internal/eventing"
	ingestion "sensorhub/internal/ingestion/domain"
	"sensorhub/internal/observability/metrics"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

// DeviceFinder resolves visible device ids.
type DeviceFinder interface {
	FindDeviceByVisibleID(ctx context.Context, visibleID string) (*registry.Device, error)
}

// SensorFinder resolves sensors on a device channel.
type SensorFinder interface {
	FindSensor(ctx context.Context, deviceID string, channel int, sensorType registry.SensorType) (*registry.Sensor, error)
	ListSensorsByChannel(ctx context.Context, deviceID string, channel int) ([]registry.Sensor, error)
}

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

// RequestMeta describes where a batch came from. It is copied into audit entries.
type RequestMeta struct {
	SourceAddress string
	Method        string
	Path          string
	// Source names the transport, e.g. "http" or "mqtt".
	Source string
}

// Service runs the ingestion pipeline.
type Service struct {
	validator *ingestion.Validator
	devices   DeviceFinder
	sensors   SensorFinder
	readings  telemetry.ReadingRecorder
	auditLog  audit.Logger
	publisher Publisher
	logger    *zap.Logger
	clock     Clock
}

// Option customizes the service.
type Option func(*Service)

// WithPublisher assigns the invalidation publisher.
func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLogger assigns the operational logger.
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

// NewService constructs the ingestion service.
func NewService(metricTable ingestion.MetricTable, devices DeviceFinder, sensors SensorFinder, readings telemetry.ReadingRecorder, auditLog audit.Logger, opts ...Option) (*Service, error) {
	if devices == nil {
		return nil, errors.New("ingestion: nil device finder")
	}
	if sensors == nil {
		return nil, errors.New("ingestion: nil sensor finder")
	}
	if readings == nil {
		return nil, errors.New("ingestion: nil reading recorder")
	}
	if auditLog == nil {
		return nil, errors.New("ingestion: nil audit logger")
	}
	if metricTable.Len() == 0 {
		metricTable = ingestion.DefaultMetricTable()
	}
	service := &Service{
		validator: ingestion.NewValidator(metricTable),
		devices:   devices,
		sensors:   sensors,
		readings:  readings,
		auditLog:  auditLog,
		logger:    zap.NewNop(),
		clock:     systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// pass carries what one run of the pipeline learned. The pipeline updates it in place,
// so a recovered panic still sees the attempted device and the readings already stored.
type pass struct {
	result    ingestion.Result
	attempted string
	device    *registry.Device
	outcome   ingestion.BatchOutcome
	cause     error
}

// Ingest validates body, stores every resolvable reading and returns the request-level result.
// Failed and partially failed requests are audited before Ingest returns.
func (s *Service) Ingest(ctx context.Context, body []byte, meta RequestMeta) ingestion.Result {
	start := s.clock.Now()
	run := s.guard(ctx, body)

	if run.result.Failed() {
		s.audit(ctx, body, meta, run)
	}
	s.observe(run, start)
	if run.outcome.ProcessedCount() > 0 && run.device != nil {
		s.publish(ctx, eventing.ReadingsIngested{
			EventID:    eventing.NewEventID(),
			DeviceID:   run.device.ID,
			VisibleID:  run.device.VisibleID,
			SensorIDs:  run.outcome.SensorIDs(),
			Processed:  run.outcome.ProcessedCount(),
			Source:     meta.Source,
			OccurredAt: s.clock.Now(),
		})
	}
	return run.result
}

// RejectOversized audits and rejects a body larger than limit bytes without parsing it.
func (s *Service) RejectOversized(ctx context.Context, limit int64, meta RequestMeta) ingestion.Result {
	start := s.clock.Now()
	fields := ingestion.FieldErrors{}
	fields.Add("payload", fmt.Sprintf("Payload exceeds %d bytes", limit))
	run := &pass{result: ingestion.Result{
		Status:  http.StatusRequestEntityTooLarge,
		Kind:    ingestion.KindValidation,
		Message: ingestion.MessageValidation,
		Fields:  fields,
	}}
	s.audit(ctx, nil, meta, run)
	s.observe(run, start)
	return run.result
}

func (s *Service) guard(ctx context.Context, body []byte) *pass {
	run := &pass{}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ingest panic",
				zap.String("device_id", run.attempted),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			run.result = ingestion.Internal(run.attempted)
			run.cause = fmt.Errorf("panic: %v", r)
		}
	}()
	s.process(ctx, body, run)
	return run
}

func (s *Service) process(ctx context.Context, body []byte, run *pass) {
	batch, err := s.validator.Parse(body)
	if err != nil {
		var payloadErr *ingestion.PayloadError
		if errors.As(err, &payloadErr) {
			run.result = ingestion.RejectPayload(payloadErr)
			return
		}
		run.result, run.cause = ingestion.Internal(""), err
		return
	}
	run.attempted = batch.DeviceID

	device, err := s.devices.FindDeviceByVisibleID(ctx, batch.DeviceID)
	if errors.Is(err, registry.ErrDeviceNotFound) {
		run.result = ingestion.RejectDevice(batch.DeviceID)
		return
	}
	if err != nil {
		run.result, run.cause = ingestion.Internal(batch.DeviceID), fmt.Errorf("find device: %w", err)
		return
	}
	run.device = device

	if err := s.fold(ctx, batch, run); err != nil {
		// Readings stored before the failure stay stored.
		run.result, run.cause = ingestion.Internal(batch.DeviceID), err
		return
	}
	run.result = ingestion.Aggregate(batch.DeviceID, run.outcome)
}

// fold resolves and stores every reading into run.outcome. Item failures are collected;
// only registry errors other than not-found stop the fold.
func (s *Service) fold(ctx context.Context, batch ingestion.Batch, run *pass) error {
	for _, reading := range batch.Readings {
		at := reading.At(batch.Timestamp)
		var err error
		switch r := reading.(type) {
		case ingestion.TypedReading:
			err = s.foldTyped(ctx, run, r, at)
		case ingestion.MultiMetricReading:
			err = s.foldMetrics(ctx, run, r, at)
		default:
			err = fmt.Errorf("unsupported reading %T", reading)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) foldTyped(ctx context.Context, run *pass, r ingestion.TypedReading, at time.Time) error {
	device := run.device
	candidates, err := s.sensors.ListSensorsByChannel(ctx, device.ID, r.Channel)
	if err != nil {
		return fmt.Errorf("list sensors on channel %d: %w", r.Channel, err)
	}
	value := r.Value
	if len(candidates) == 0 {
		run.outcome = run.outcome.Fail(ingestion.ItemError{
			Channel: r.Channel,
			Type:    r.Type,
			Value:   &value,
			Kind:    ingestion.KindSensorNotFound,
			Message: fmt.Sprintf("Sensor not found on device '%s' for channel %d.", device.VisibleID, r.Channel),
		})
		return nil
	}
	for i := range candidates {
		if candidates[i].Type == r.Type {
			s.store(ctx, run, candidates[i], r.Channel, "", r.Value, at)
			return nil
		}
	}
	run.outcome = run.outcome.Fail(ingestion.ItemError{
		Channel: r.Channel,
		Type:    r.Type,
		Value:   &value,
		Kind:    ingestion.KindTypeMismatch,
		Message: fmt.Sprintf("Type mismatch for channel %d. Expected '%s', got '%s'.", r.Channel, candidates[0].Type, r.Type),
	})
	return nil
}

func (s *Service) foldMetrics(ctx context.Context, run *pass, r ingestion.MultiMetricReading, at time.Time) error {
	device := run.device
	for _, metric := range r.Metrics {
		sensor, err := s.sensors.FindSensor(ctx, device.ID, r.Channel, metric.Type)
		if errors.Is(err, registry.ErrSensorNotFound) {
			value := metric.Value
			run.outcome = run.outcome.Fail(ingestion.ItemError{
				Channel: r.Channel,
				Metric:  metric.Key,
				Type:    metric.Type,
				Value:   &value,
				Kind:    ingestion.KindSensorNotFound,
				Message: fmt.Sprintf("Sensor not found on device '%s' for channel %d and metric '%s'.", device.VisibleID, r.Channel, metric.Key),
			})
			continue
		}
		if err != nil {
			return fmt.Errorf("find %s sensor on channel %d: %w", metric.Type, r.Channel, err)
		}
		s.store(ctx, run, *sensor, r.Channel, metric.Key, metric.Value, at)
	}
	return nil
}

func (s *Service) store(ctx context.Context, run *pass, sensor registry.Sensor, channel int, metricKey string, value float64, at time.Time) {
	err := s.readings.RecordReading(ctx, telemetry.Reading{SensorID: sensor.ID, Timestamp: at, Value: value})
	if err != nil {
		s.logger.Warn("store reading failed",
			zap.String("sensor_id", sensor.ID),
			zap.Int("channel", channel),
			zap.Error(err),
		)
		v := value
		run.outcome = run.outcome.Fail(ingestion.ItemError{
			Channel: channel,
			Metric:  metricKey,
			Type:    sensor.Type,
			Value:   &v,
			Kind:    ingestion.KindPersistence,
			Message: fmt.Sprintf("Failed to store reading for channel %d.", channel),
		})
		return
	}
	run.outcome = run.outcome.Succeed(ingestion.ProcessedItem{
		SensorID: sensor.ID,
		Channel:  channel,
		Type:     sensor.Type,
		Value:    value,
	})
}

// audit writes the failure record. It never fails the request.
func (s *Service) audit(ctx context.Context, body []byte, meta RequestMeta, run *pass) {
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			metrics.IncAuditWriteFailure()
			s.logger.Error("audit log panic", zap.Any("panic", r))
		}
	}()

	entry := audit.Prepare(audit.Entry{
		SourceAddress: meta.SourceAddress,
		Method:        meta.Method,
		Path:          meta.Path,
		ErrorKind:     string(run.result.Kind),
		ErrorDetails:  auditDetails(run),
		StatusCode:    run.result.Status,
	}, s.clock.Now())
	if run.result.DeviceID != "" {
		deviceID := run.result.DeviceID
		entry.DeviceIDAttempted = &deviceID
	}
	if len(body) > 0 {
		payload := string(body)
		entry.PayloadReceived = &payload
	}

	if err := s.auditLog.Log(ctx, entry); err != nil {
		metrics.IncAuditWriteFailure()
		s.logger.Error("audit log write failed",
			zap.String("error_kind", entry.ErrorKind),
			zap.Int("status", entry.StatusCode),
			zap.Error(err),
		)
		return
	}
	s.publish(ctx, eventing.AuditLogChanged{
		EventID:    eventing.NewEventID(),
		Action:     eventing.ActionLogged,
		EntryID:    entry.ID,
		ErrorKind:  entry.ErrorKind,
		OccurredAt: entry.Timestamp,
	})
}

func auditDetails(run *pass) json.RawMessage {
	result := run.result
	switch {
	case result.Kind == ingestion.KindInternal && run.cause != nil:
		return audit.Details(run.cause.Error())
	case len(result.Fields) > 0:
		return audit.Details(result.Fields)
	case len(result.ItemErrors) > 0:
		return audit.Details(result.ItemErrors)
	default:
		return audit.Details(result.Message)
	}
}

func (s *Service) observe(run *pass, start time.Time) {
	result := run.result
	label := metrics.IngestResultSuccess
	switch {
	case result.Success && result.Failed():
		label = metrics.IngestResultPartial
	case !result.Success:
		label = metrics.IngestResultError
	}
	metrics.ObserveIngest(label, s.clock.Now().Sub(start))
	if result.Failed() {
		metrics.IncIngestError(string(result.Kind))
	}
	for _, item := range run.outcome.Errors {
		metrics.IncItemError(string(item.Kind))
	}
	metrics.AddReadingsPersisted(run.outcome.ProcessedCount())
	if run.cause != nil {
		s.logger.Error("ingest failed", zap.String("device_id", result.DeviceID), zap.Error(run.cause))
	}
}

func (s *Service) publish(ctx context.Context, event eventing.Event) {
	if s.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEventPublishError(event.Topic())
			s.logger.Error("event publish panic", zap.String("topic", event.Topic()), zap.Any("panic", r))
		}
	}()
	if err := s.publisher.Publish(ctx, event); err != nil {
		metrics.IncEventPublishError(event.Topic())
		s.logger.Warn("event publish failed", zap.String("topic", event.Topic()), zap.Error(err))
	}
}
