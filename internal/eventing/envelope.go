package eventing

import (
	"encoding/json"
	"time"
)

// Envelope wraps event payload with metadata for external transports.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Topic         string          `json:"topic"`
	OccurredAt    time.Time       `json:"occurred_at"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// BuildEnvelope constructs an envelope from an event.
func BuildEnvelope(event Event) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	eventID := event.ID()
	if eventID == "" {
		eventID = NewEventID()
	}
	occurredAt := event.At()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	topic := event.Topic()
	if topic == "" {
		return Envelope{}, ErrMissingTopic
	}

	return Envelope{
		EventID:       eventID,
		EventType:     event.Name(),
		Topic:         topic,
		OccurredAt:    occurredAt.UTC(),
		SchemaVersion: 1,
		Payload:       payload,
	}, nil
}
