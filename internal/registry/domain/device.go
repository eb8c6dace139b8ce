package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Device is a physical unit operators register and sensors are wired to.
type Device struct {
	ID        string
	VisibleID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize trims operator input.
func (d *Device) Normalize() {
	d.VisibleID = strings.TrimSpace(d.VisibleID)
	d.Name = strings.TrimSpace(d.Name)
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDevice)
	}
	if d.VisibleID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: device name is required", ErrInvalidDevice)
	}
	return nil
}

// DeviceRepository manages device persistence.
// Lookups return ErrDeviceNotFound when nothing matches.
type DeviceRepository interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
	FindDeviceByVisibleID(ctx context.Context, visibleID string) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
	CreateDevice(ctx context.Context, device *Device) error
	UpdateDevice(ctx context.Context, device *Device) error
	DeleteDevice(ctx context.Context, id string) error
}

// SortDevices orders devices by case-insensitive name, then visible id.
func SortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := strings.ToLower(devices[i].Name), strings.ToLower(devices[j].Name)
		if a != b {
			return a < b
		}
		return devices[i].VisibleID < devices[j].VisibleID
	})
}
