package eventing

import "time"

// Topics group events by the dashboard views they invalidate.
const (
	TopicReadings = "readings"
	TopicRegistry = "registry"
	TopicAudit    = "audit"
)

// Topics lists every invalidation topic.
func Topics() []string {
	return []string{TopicReadings, TopicRegistry, TopicAudit}
}

// Event names carried in envelopes for external consumers.
const (
	NameReadingsIngested = "readings.ingested"
	NameRegistryChanged  = "registry.changed"
	NameAuditLogChanged  = "audit_log.changed"
)

// Event is implemented by every invalidation event.
type Event interface {
	Name() string
	Topic() string
	ID() string
	At() time.Time
}

// ReadingsIngested is raised after at least one reading of a batch was stored.
type ReadingsIngested struct {
	EventID    string    `json:"event_id"`
	DeviceID   string    `json:"device_id"`
	VisibleID  string    `json:"visible_id"`
	SensorIDs  []string  `json:"sensor_ids"`
	Processed  int       `json:"processed"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ReadingsIngested) Name() string  { return NameReadingsIngested }
func (e ReadingsIngested) Topic() string { return TopicReadings }
func (e ReadingsIngested) ID() string    { return e.EventID }
func (e ReadingsIngested) At() time.Time { return e.OccurredAt }

// Registry change actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionLogged  = "logged"
	ActionCleared = "cleared"
)

// Registry entities.
const (
	EntityDevice = "device"
	EntitySensor = "sensor"
)

// RegistryChanged is raised after a device or sensor was written.
type RegistryChanged struct {
	EventID    string    `json:"event_id"`
	Entity     string    `json:"entity"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e RegistryChanged) Name() string  { return NameRegistryChanged }
func (e RegistryChanged) Topic() string { return TopicRegistry }
func (e RegistryChanged) ID() string    { return e.EventID }
func (e RegistryChanged) At() time.Time { return e.OccurredAt }

// AuditLogChanged is raised after an audit entry was written or the log was cleared.
type AuditLogChanged struct {
	EventID    string    `json:"event_id"`
	Action     string    `json:"action"`
	EntryID    string    `json:"entry_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Removed    int64     `json:"removed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e AuditLogChanged) Name() string  { return NameAuditLogChanged }
func (e AuditLogChanged) Topic() string { return TopicAudit }
func (e AuditLogChanged) ID() string    { return e.EventID }
func (e AuditLogChanged) At() time.Time { return e.OccurredAt }
