package ingestion

import (
	"time"

	registry "sensorhub/internal/registry/domain"
)

// Batch is a validated ingestion request: readings for one device.
type Batch struct {
	// DeviceID is the operator-facing visible id of the target device.
	DeviceID  string
	Timestamp time.Time
	Readings  []Reading
}

// Reading is one entry of a batch: a TypedReading or a MultiMetricReading.
// The variant is chosen by the presence of a "type" field.
type Reading interface {
	ReadingChannel() int
	// At returns the reading's own timestamp, or fallback when it carries none.
	At(fallback time.Time) time.Time
	isReading()
}

// TypedReading carries one value for an explicitly named sensor type.
type TypedReading struct {
	Channel   int
	Timestamp *time.Time
	Type      registry.SensorType
	Value     float64
}

func (r TypedReading) ReadingChannel() int { return r.Channel }

func (r TypedReading) At(fallback time.Time) time.Time { return pick(r.Timestamp, fallback) }

func (TypedReading) isReading() {}

// MetricValue is one recognised, non-null metric of a multi-metric reading.
type MetricValue struct {
	Key   string
	Type  registry.SensorType
	Value float64
}

// MultiMetricReading carries named metrics for one channel. Metrics keeps payload order;
// unrecognised keys and null values are not included.
type MultiMetricReading struct {
	Channel   int
	Timestamp *time.Time
	Metrics   []MetricValue
}

func (r MultiMetricReading) ReadingChannel() int { return r.Channel }

func (r MultiMetricReading) At(fallback time.Time) time.Time { return pick(r.Timestamp, fallback) }

func (MultiMetricReading) isReading() {}

func pick(ts *time.Time, fallback time.Time) time.Time {
	if ts != nil && !ts.IsZero() {
		return *ts
	}
	return fallback
}
