package ingestion

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	registry "sensorhub/internal/registry/domain"
)

// MetricTable maps metric keys of multi-metric readings to sensor types.
type MetricTable struct {
	types map[string]registry.SensorType
}

// DefaultMetrics is the metric table used when no file overrides it.
func DefaultMetrics() map[string]registry.SensorType {
	return map[string]registry.SensorType{
		"temperature": registry.SensorTypeTemperature,
		"humidity":    registry.SensorTypeHumidity,
		"co2":         registry.SensorTypeCO2,
	}
}

// NewMetricTable validates that every key maps to a supported sensor type.
func NewMetricTable(metrics map[string]registry.SensorType) (MetricTable, error) {
	types := make(map[string]registry.SensorType, len(metrics))
	for key, sensorType := range metrics {
		if key == "" {
			return MetricTable{}, fmt.Errorf("metric table: empty metric key")
		}
		if isReservedKey(key) {
			return MetricTable{}, fmt.Errorf("metric table: %q is a reserved reading field", key)
		}
		if !sensorType.IsValid() {
			return MetricTable{}, fmt.Errorf("metric table: metric %q maps to unsupported type %q", key, sensorType)
		}
		types[key] = sensorType
	}
	return MetricTable{types: types}, nil
}

// DefaultMetricTable returns the built-in table.
func DefaultMetricTable() MetricTable {
	table, _ := NewMetricTable(DefaultMetrics())
	return table
}

type metricFile struct {
	Replace bool              `yaml:"replace"`
	Metrics map[string]string `yaml:"metrics"`
}

// LoadMetricTable reads a YAML file of the form
//
//	metrics:
//	  pressure: Pressure
//	  light: Light
//
// and merges it over the defaults. With `replace: true` the defaults are dropped.
// An empty path yields the default table.
func LoadMetricTable(path string) (MetricTable, error) {
	if path == "" {
		return DefaultMetricTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return MetricTable{}, fmt.Errorf("metric table: %w", err)
	}
	return ParseMetricTable(data)
}

// ParseMetricTable is LoadMetricTable for already-read YAML.
func ParseMetricTable(data []byte) (MetricTable, error) {
	var file metricFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return MetricTable{}, fmt.Errorf("metric table: %w", err)
	}
	metrics := DefaultMetrics()
	if file.Replace {
		metrics = make(map[string]registry.SensorType, len(file.Metrics))
	}
	for key, sensorType := range file.Metrics {
		metrics[key] = registry.SensorType(sensorType)
	}
	return NewMetricTable(metrics)
}

// Resolve maps a metric key to its sensor type.
func (t MetricTable) Resolve(key string) (registry.SensorType, bool) {
	sensorType, ok := t.types[key]
	return sensorType, ok
}

// Keys lists the recognised metric keys in sorted order.
func (t MetricTable) Keys() []string {
	keys := make([]string, 0, len(t.types))
	for key := range t.types {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of recognised metric keys.
func (t MetricTable) Len() int {
	return len(t.types)
}
