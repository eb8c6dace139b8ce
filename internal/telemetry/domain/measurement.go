package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidReading is returned when a reading misses its sensor or timestamp.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// Reading is one time-stamped numeric sample of a sensor. Readings are append-only.
type Reading struct {
	SensorID  string
	Timestamp time.Time
	Value     float64
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.SensorID == "" || r.Timestamp.IsZero() {
		return ErrInvalidReading
	}
	return nil
}

// ReadingRecorder persists one reading and moves the sensor's latest value/timestamp
// to it as a single unit.
type ReadingRecorder interface {
	RecordReading(ctx context.Context, reading Reading) error
}

// ReadingRepository is the reading store.
type ReadingRepository interface {
	ReadingRecorder
	AppendReading(ctx context.Context, reading Reading) error
	// ListRecentReadings returns up to limit of the newest readings, oldest first.
	ListRecentReadings(ctx context.Context, sensorID string, limit int) ([]Reading, error)
}

// OldestFirst reverses a newest-first slice in place and returns it.
func OldestFirst(readings []Reading) []Reading {
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings
}
