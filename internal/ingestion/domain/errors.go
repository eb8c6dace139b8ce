package ingestion

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies why a request or one of its items was rejected.
type ErrorKind string

// Request-level kinds abort the request; item-level kinds only reject one reading or metric.
const (
	KindInvalidJSON      ErrorKind = "InvalidJson"
	KindValidation       ErrorKind = "ValidationError"
	KindDeviceNotFound   ErrorKind = "DeviceNotFound"
	KindNoValidMetrics   ErrorKind = "NoValidMetrics"
	KindPartialIngestion ErrorKind = "PartialIngestionError"
	KindInternal         ErrorKind = "InternalError"
	KindSensorNotFound   ErrorKind = "SensorNotFound"
	KindTypeMismatch     ErrorKind = "TypeMismatch"
	KindPersistence      ErrorKind = "PersistenceError"
)

// FieldErrors maps a dotted field path to its validation messages.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Fields returns the failing field paths in stable order.
func (f FieldErrors) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// PayloadError is returned by the validator. No part of a rejected payload is passed on.
type PayloadError struct {
	Kind    ErrorKind
	Message string
	Fields  FieldErrors
	// DeviceID is the device_id the caller sent, when one could be read.
	DeviceID string
}

func (e *PayloadError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("ingestion: %s: %s", e.Kind, e.Message)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields.Fields() {
		parts = append(parts, field+": "+strings.Join(e.Fields[field], "; "))
	}
	return fmt.Sprintf("ingestion: %s: %s", e.Kind, strings.Join(parts, ", "))
}
