package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	registry "sensorhub/internal/registry/domain"
)

const (
	fieldPayload      = "payload"
	fieldDeviceID     = "device_id"
	fieldTimestamp    = "timestamp"
	fieldISOTimestamp = "iso_timestamp"
	fieldReadings     = "readings"
	fieldChannel      = "channel"
	fieldType         = "type"
	fieldValue        = "value"
)

// Messages returned for request-level rejections.
const (
	MessageInvalidJSON = "Invalid JSON payload."
	MessageValidation  = "Validation failed."
)

func isReservedKey(key string) bool {
	switch key {
	case fieldChannel, fieldTimestamp, fieldISOTimestamp, fieldType, fieldValue:
		return true
	}
	return false
}

// Validator turns a raw request body into a Batch.
type Validator struct {
	metrics MetricTable
}

// NewValidator constructs a validator that recognises the metric keys of metrics.
func NewValidator(metrics MetricTable) *Validator {
	return &Validator{metrics: metrics}
}

// Parse validates body. On failure it returns a *PayloadError of kind
// KindInvalidJSON or KindValidation and an empty Batch.
func (v *Validator) Parse(body []byte) (Batch, error) {
	if !json.Valid(body) {
		return Batch{}, &PayloadError{Kind: KindInvalidJSON, Message: MessageInvalidJSON}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		errs := FieldErrors{}
		errs.Add(fieldPayload, "Expected a JSON object")
		return Batch{}, validationError(errs, "")
	}

	errs := FieldErrors{}
	var batch Batch

	attempted := ""
	if raw, ok := present(fields, fieldDeviceID); !ok {
		errs.Add(fieldDeviceID, "device_id is required")
	} else if err := json.Unmarshal(raw, &attempted); err != nil {
		errs.Add(fieldDeviceID, "Expected string")
	} else if attempted == "" {
		errs.Add(fieldDeviceID, "device_id is required")
	} else {
		batch.DeviceID = attempted
	}

	if ts := parseTimestamps(fields, "", errs); ts != nil {
		batch.Timestamp = *ts
	} else if !hasTimestampError(errs, "") {
		errs.Add(fieldTimestamp, "timestamp or iso_timestamp is required")
	}

	if raw, ok := present(fields, fieldReadings); !ok {
		errs.Add(fieldReadings, "At least one reading is required")
	} else {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			errs.Add(fieldReadings, "Expected array")
		} else if len(items) == 0 {
			errs.Add(fieldReadings, "At least one reading is required")
		} else {
			batch.Readings = make([]Reading, 0, len(items))
			for i, item := range items {
				if reading := v.parseReading(item, fmt.Sprintf("%s.%d", fieldReadings, i), errs); reading != nil {
					batch.Readings = append(batch.Readings, reading)
				}
			}
		}
	}

	if len(errs) > 0 {
		return Batch{}, validationError(errs, attempted)
	}
	return batch, nil
}

func (v *Validator) parseReading(raw json.RawMessage, path string, errs FieldErrors) Reading {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		errs.Add(path, "Expected object")
		return nil
	}
	before := len(errs)

	channel := 0
	if rawChannel, ok := present(fields, fieldChannel); !ok {
		errs.Add(path+"."+fieldChannel, "channel is required")
	} else if parsed, msg := parseChannel(rawChannel); msg != "" {
		errs.Add(path+"."+fieldChannel, msg)
	} else {
		channel = parsed
	}

	ts := parseTimestamps(fields, path+".", errs)

	if rawType, ok := present(fields, fieldType); ok {
		reading := TypedReading{Channel: channel, Timestamp: ts}
		var name string
		if err := json.Unmarshal(rawType, &name); err != nil || !registry.SensorType(name).IsValid() {
			received := strings.TrimSpace(string(rawType))
			if err == nil {
				received = name
			}
			errs.Add(path+"."+fieldType, fmt.Sprintf(
				"Invalid sensor type. Expected one of: %s (PascalCase). Received: %s",
				registry.SensorTypeNames(), received))
		} else {
			reading.Type = registry.SensorType(name)
		}
		if rawValue, ok := present(fields, fieldValue); !ok {
			errs.Add(path+"."+fieldValue, "value is required")
		} else if err := json.Unmarshal(rawValue, &reading.Value); err != nil {
			errs.Add(path+"."+fieldValue, "Expected number")
		}
		if len(errs) > before {
			return nil
		}
		return reading
	}

	reading := MultiMetricReading{Channel: channel, Timestamp: ts}
	keys, err := objectKeys(raw)
	if err != nil {
		errs.Add(path, "Expected object")
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sensorType, ok := v.metrics.Resolve(key)
		if !ok {
			continue
		}
		rawValue, ok := present(fields, key)
		if !ok {
			continue
		}
		var value float64
		if err := json.Unmarshal(rawValue, &value); err != nil {
			errs.Add(path+"."+key, "Expected number")
			continue
		}
		reading.Metrics = append(reading.Metrics, MetricValue{Key: key, Type: sensorType, Value: value})
	}
	if len(errs) > before {
		return nil
	}
	return reading
}

// parseChannel coerces numeric-like input to a channel number.
func parseChannel(raw json.RawMessage) (int, string) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, "Expected number"
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, "Expected number"
		}
		n = parsed
	}
	if math.IsNaN(n) || n != math.Trunc(n) {
		return 0, "Expected integer"
	}
	if n < registry.MinChannel || n > registry.MaxChannel {
		return 0, fmt.Sprintf("Channel must be %d-%d", registry.MinChannel, registry.MaxChannel)
	}
	return int(n), ""
}

// parseTimestamps reads timestamp and iso_timestamp; iso_timestamp wins when both are valid.
func parseTimestamps(fields map[string]json.RawMessage, prefix string, errs FieldErrors) *time.Time {
	var result *time.Time
	for _, key := range []string{fieldTimestamp, fieldISOTimestamp} {
		raw, ok := present(fields, key)
		if !ok {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			errs.Add(prefix+key, "Invalid timestamp format. Expected ISO 8601 datetime string.")
			continue
		}
		result = &ts
	}
	return result
}

func hasTimestampError(errs FieldErrors, prefix string) bool {
	_, a := errs[prefix+fieldTimestamp]
	_, b := errs[prefix+fieldISOTimestamp]
	return a || b
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// present returns the raw value of key unless it is missing or JSON null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// objectKeys lists the keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("object key is not a string")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func validationError(errs FieldErrors, deviceID string) *PayloadError {
	return &PayloadError{Kind: KindValidation, Message: MessageValidation, Fields: errs, DeviceID: deviceID}
}
