package registry

import "errors"

var (
	// ErrDeviceNotFound indicates a missing device record.
	ErrDeviceNotFound = errors.New("registry: device not found")
	// ErrSensorNotFound indicates a missing sensor record.
	ErrSensorNotFound = errors.New("registry: sensor not found")
	// ErrDuplicateVisibleID indicates another device already uses the visible id.
	ErrDuplicateVisibleID = errors.New("registry: device visible id already exists")
	// ErrDuplicateSensor indicates a sensor already occupies the device/channel/type slot.
	ErrDuplicateSensor = errors.New("registry: sensor already registered for device, channel and type")
	// ErrInvalidDevice wraps device validation failures.
	ErrInvalidDevice = errors.New("registry: invalid device")
	// ErrInvalidSensor wraps sensor validation failures.
	ErrInvalidSensor = errors.New("registry: invalid sensor")
)
