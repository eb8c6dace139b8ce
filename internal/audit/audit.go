package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNilRepository is returned by repositories constructed without a database.
var ErrNilRepository = errors.New("audit repo: nil db")

// Entry is one failed or partially failed ingestion request.
// Device ids are stored by value only: the device may not exist.
type Entry struct {
	ID                string
	Timestamp         time.Time
	SourceAddress     string
	Method            string
	Path              string
	DeviceIDAttempted *string
	PayloadReceived   *string
	ErrorKind         string
	ErrorDetails      json.RawMessage
	StatusCode        int
}

// Logger appends audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Store is the audit log as operators see it.
type Store interface {
	Logger
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
	// Clear deletes every entry and reports how many were removed.
	Clear(ctx context.Context) (int64, error)
}

// NewID generates a random audit id.
func NewID() string {
	return uuid.NewString()
}

// Prepare fills the id and timestamp when the caller left them empty.
func Prepare(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now.UTC()
	}
	if len(entry.ErrorDetails) == 0 {
		entry.ErrorDetails = json.RawMessage("null")
	}
	return entry
}

// Details encodes structured or string details for storage.
func Details(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(err.Error())
	}
	return data
}

// DetailsText renders stored details for display; string details are unquoted.
func DetailsText(details json.RawMessage) string {
	if len(details) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(details, &text); err == nil {
		return text
	}
	return string(details)
}
