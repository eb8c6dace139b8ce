package ingestion

import (
	"fmt"
	"net/http"

	registry "sensorhub/internal/registry/domain"
)

// Messages returned for outcomes decided after validation.
const (
	MessageInternal = "An internal server error occurred."
)

// ItemError describes one reading or metric that was not persisted.
type ItemError struct {
	Channel int                 `json:"channel"`
	Metric  string              `json:"metric,omitempty"`
	Type    registry.SensorType `json:"type,omitempty"`
	Value   *float64            `json:"value,omitempty"`
	Kind    ErrorKind           `json:"error_kind"`
	Message string              `json:"message"`
}

// ProcessedItem is one persisted value.
type ProcessedItem struct {
	SensorID string
	Channel  int
	Type     registry.SensorType
	Value    float64
}

// BatchOutcome accumulates per-item results while a batch is folded.
type BatchOutcome struct {
	Processed []ProcessedItem
	Errors    []ItemError
	// Attempted counts items that had a resolvable key and a value, persisted or not.
	Attempted int
}

// Succeed records a persisted item.
func (o BatchOutcome) Succeed(item ProcessedItem) BatchOutcome {
	o.Attempted++
	o.Processed = append(o.Processed, item)
	return o
}

// Fail records a rejected item.
func (o BatchOutcome) Fail(item ItemError) BatchOutcome {
	o.Attempted++
	o.Errors = append(o.Errors, item)
	return o
}

// ProcessedCount is the number of persisted items.
func (o BatchOutcome) ProcessedCount() int { return len(o.Processed) }

// AttemptedCount is the number of items that were tried.
func (o BatchOutcome) AttemptedCount() int { return o.Attempted }

// SensorIDs lists persisted sensors without duplicates, in first-seen order.
func (o BatchOutcome) SensorIDs() []string {
	seen := make(map[string]struct{}, len(o.Processed))
	ids := make([]string, 0, len(o.Processed))
	for _, item := range o.Processed {
		if _, ok := seen[item.SensorID]; ok {
			continue
		}
		seen[item.SensorID] = struct{}{}
		ids = append(ids, item.SensorID)
	}
	return ids
}

// Result is the request-level decision: what the caller receives and what is audited.
type Result struct {
	Status  int
	Success bool
	// Kind is empty for a full success.
	Kind       ErrorKind
	Message    string
	Fields     FieldErrors
	ItemErrors []ItemError
	// Counted is set once readings were resolved, so the counts below are meaningful.
	Counted   bool
	Processed int
	Attempted int
	DeviceID  string
}

// Failed reports whether the request must be written to the audit log.
func (r Result) Failed() bool {
	return r.Kind != ""
}

// RejectPayload maps a validator error to a result.
func RejectPayload(err *PayloadError) Result {
	return Result{
		Status:   http.StatusBadRequest,
		Kind:     err.Kind,
		Message:  err.Message,
		Fields:   err.Fields,
		DeviceID: err.DeviceID,
	}
}

// RejectDevice is the result for an unknown visible device id.
func RejectDevice(deviceID string) Result {
	return Result{
		Status:   http.StatusNotFound,
		Kind:     KindDeviceNotFound,
		Message:  fmt.Sprintf("Device with device_id '%s' not found.", deviceID),
		DeviceID: deviceID,
	}
}

// Internal is the result for unexpected failures. The message never carries internals.
func Internal(deviceID string) Result {
	return Result{
		Status:   http.StatusInternalServerError,
		Kind:     KindInternal,
		Message:  MessageInternal,
		DeviceID: deviceID,
	}
}

// Aggregate turns a folded batch into the request-level result.
func Aggregate(deviceID string, outcome BatchOutcome) Result {
	result := Result{
		Counted:    true,
		Processed:  outcome.ProcessedCount(),
		Attempted:  outcome.AttemptedCount(),
		DeviceID:   deviceID,
		ItemErrors: outcome.Errors,
	}
	switch {
	case result.Attempted == 0:
		result.Status = http.StatusBadRequest
		result.Kind = KindNoValidMetrics
		result.Message = fmt.Sprintf("No valid metrics found in readings for device '%s'.", deviceID)
	case len(outcome.Errors) == 0:
		result.Status = http.StatusCreated
		result.Success = true
		result.Message = fmt.Sprintf("Successfully processed %d readings for device '%s'.", result.Processed, deviceID)
	case result.Processed > 0:
		result.Status = http.StatusMultiStatus
		result.Success = true
		result.Kind = KindPartialIngestion
		result.Message = fmt.Sprintf("Processed %d out of %d readings. Some errors occurred.", result.Processed, result.Attempted)
	default:
		result.Status = http.StatusBadRequest
		result.Kind = KindPartialIngestion
		result.Message = fmt.Sprintf("Processed 0 out of %d readings. Some errors occurred.", result.Attempted)
	}
	return result
}
