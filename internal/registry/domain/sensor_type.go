package registry

import "strings"

// SensorType is the physical quantity a sensor measures.
type SensorType string

const (
	SensorTypeTemperature SensorType = "Temperature"
	SensorTypeHumidity    SensorType = "Humidity"
	SensorTypePressure    SensorType = "Pressure"
	SensorTypeLight       SensorType = "Light"
	SensorTypeMotion      SensorType = "Motion"
	SensorTypeGeneric     SensorType = "Generic"
	SensorTypeCO2         SensorType = "CO2"
)

const (
	// MinChannel is the first physical input slot on a device.
	MinChannel = 1
	// MaxChannel is the last physical input slot on a device.
	MaxChannel = 8
)

var defaultUnits = map[SensorType]string{
	SensorTypeTemperature: "°C",
	SensorTypeHumidity:    "%",
	SensorTypePressure:    "hPa",
	SensorTypeLight:       "lux",
	SensorTypeMotion:      "detections",
	SensorTypeGeneric:     "units",
	SensorTypeCO2:         "ppm",
}

// SensorTypes returns the supported sensor types in display order.
func SensorTypes() []SensorType {
	return []SensorType{
		SensorTypeTemperature,
		SensorTypeHumidity,
		SensorTypePressure,
		SensorTypeLight,
		SensorTypeMotion,
		SensorTypeGeneric,
		SensorTypeCO2,
	}
}

// IsValid reports whether t is one of the supported types. Matching is case-sensitive.
func (t SensorType) IsValid() bool {
	_, ok := defaultUnits[t]
	return ok
}

// DefaultUnit returns the unit used when a sensor is registered without one.
func (t SensorType) DefaultUnit() string {
	return defaultUnits[t]
}

// SensorTypeNames joins the supported types for error messages.
func SensorTypeNames() string {
	types := SensorTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// ValidChannel reports whether channel addresses a physical slot.
func ValidChannel(channel int) bool {
	return channel >= MinChannel && channel <= MaxChannel
}
