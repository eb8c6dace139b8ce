package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sensorhub/internal/audit"
	"sensorhub/internal/eventing"
	"sensorhub/internal/export"
)

// Audit listing bounds.
const (
	DefaultAuditLimit = 20
	MaxAuditLimit     = 500
)

// Publisher emits invalidation events.
type Publisher interface {
	Publish(ctx context.Context, event eventing.Event) error
}

// AuditHandler lists, clears and reports audit log entries.
type AuditHandler struct {
	store        audit.Store
	publisher    Publisher
	defaultLimit int
	now          func() time.Time
	logger       *zap.Logger
}

// AuditOption configures an AuditHandler.
type AuditOption func(*AuditHandler)

// WithAuditPublisher publishes AuditLogChanged after a clear.
func WithAuditPublisher(publisher Publisher) AuditOption {
	return func(h *AuditHandler) {
		h.publisher = publisher
	}
}

// WithAuditDefaultLimit sets the page size used without ?limit.
func WithAuditDefaultLimit(limit int) AuditOption {
	return func(h *AuditHandler) {
		if limit > 0 && limit <= MaxAuditLimit {
			h.defaultLimit = limit
		}
	}
}

// WithAuditLogger sets the logger.
func WithAuditLogger(logger *zap.Logger) AuditOption {
	return func(h *AuditHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(store audit.Store, opts ...AuditOption) (*AuditHandler, error) {
	if store == nil {
		return nil, errors.New("audit handler: nil store")
	}
	h := &AuditHandler{
		store:        store,
		defaultLimit: DefaultAuditLimit,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the audit log endpoints.
func (h *AuditHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Delete("/", h.clear)
	r.Get("/report.pdf", h.report)
}

type auditView struct {
	ID                 string          `json:"id"`
	Timestamp          string          `json:"timestamp"`
	SourceAddress      string          `json:"sourceAddress"`
	Method             string          `json:"method"`
	Path               string          `json:"path"`
	DeviceIDAttempted  *string         `json:"deviceIdAttempted"`
	PayloadReceived    *string         `json:"payloadReceived"`
	ErrorKind          string          `json:"errorKind"`
	ErrorDetails       json.RawMessage `json:"errorDetails"`
	StatusCodeReturned int             `json:"statusCodeReturned"`
}

func toAuditView(entry audit.Entry) auditView {
	details := entry.ErrorDetails
	if len(details) == 0 {
		details = json.RawMessage("null")
	}
	return auditView{
		ID:                 entry.ID,
		Timestamp:          entry.Timestamp.UTC().Format(time.RFC3339Nano),
		SourceAddress:      entry.SourceAddress,
		Method:             entry.Method,
		Path:               entry.Path,
		DeviceIDAttempted:  entry.DeviceIDAttempted,
		PayloadReceived:    entry.PayloadReceived,
		ErrorKind:          entry.ErrorKind,
		ErrorDetails:       details,
		StatusCodeReturned: entry.StatusCode,
	}
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, h.defaultLimit, MaxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list audit logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toAuditView(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AuditHandler) clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.Clear(r.Context())
	if err != nil {
		h.logger.Error("clear audit logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear audit logs.")
		return
	}
	h.logger.Info("audit logs cleared", zap.Int64("removed", removed))
	if h.publisher != nil {
		event := eventing.AuditLogChanged{
			EventID:    eventing.NewEventID(),
			Action:     eventing.ActionCleared,
			Removed:    removed,
			OccurredAt: h.now(),
		}
		if err := h.publisher.Publish(r.Context(), event); err != nil {
			h.logger.Warn("publish audit cleared failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Cleared %d audit log entries.", removed),
		"removed": removed,
	})
}

func (h *AuditHandler) report(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, MaxAuditLimit, MaxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list audit logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	data, err := export.BuildAuditReportPDF(entries, h.now())
	if err != nil {
		h.logger.Error("audit report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-log.pdf"`)
	_, _ = w.Write(data)
}
