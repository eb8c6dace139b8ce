package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"sensorhub/internal/audit"
	ingestapp "sensorhub/internal/ingestion/application"
	ingestion "sensorhub/internal/ingestion/domain"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler serves the batch ingestion endpoint.
type Handler struct {
	service      *ingestapp.Service
	logger       *zap.Logger
	maxBodyBytes int64
}

// Option customizes the handler.
type Option func(*Handler)

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs an ingestion handler.
func NewHandler(service *ingestapp.Service, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	h := &Handler{service: service, logger: zap.NewNop(), maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

type response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Errors    any    `json:"errors,omitempty"`
	Processed *int   `json:"processed_metrics,omitempty"`
	Attempted *int   `json:"attempted_metrics,omitempty"`
}

// ServeHTTP ingests one batch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Message: "Method not allowed."})
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("ingest handler panic", zap.Any("panic", rec), zap.Stack("stack"))
			writeJSON(w, http.StatusInternalServerError, response{Message: ingestion.MessageInternal})
		}
	}()

	meta := ingestapp.RequestMeta{
		SourceAddress: audit.SourceAddress(r),
		Method:        r.Method,
		Path:          r.URL.Path,
		Source:        "http",
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, h.service.RejectOversized(r.Context(), h.maxBodyBytes, meta))
			return
		}
		h.logger.Warn("ingest read body failed", zap.String("remote", meta.SourceAddress), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, response{Message: "Could not read request body."})
		return
	}

	writeResult(w, h.service.Ingest(r.Context(), body, meta))
}

func writeResult(w http.ResponseWriter, result ingestion.Result) {
	writeJSON(w, result.Status, render(result))
}

// render builds the response body for a result.
func render(result ingestion.Result) any {
	resp := response{Success: result.Success, Message: result.Message}
	switch {
	case len(result.Fields) > 0:
		resp.Errors = result.Fields
	case len(result.ItemErrors) > 0:
		resp.Errors = result.ItemErrors
	}
	if result.Counted {
		processed, attempted := result.Processed, result.Attempted
		resp.Processed = &processed
		resp.Attempted = &attempted
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
