package apihttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sensorhub/internal/export"
	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

// History window bounds.
const (
	DefaultHistoryLimit = 24
	MaxHistoryLimit     = 1000
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SensorGetter loads one sensor.
type SensorGetter interface {
	GetSensor(ctx context.Context, id string) (*registry.Sensor, error)
}

// ReadingLister loads a sensor's newest readings, oldest first.
type ReadingLister interface {
	ListRecentReadings(ctx context.Context, sensorID string, limit int) ([]telemetry.Reading, error)
}

// HistoryHandler serves a sensor's reading history as JSON, CSV or XLSX.
type HistoryHandler struct {
	sensors      SensorGetter
	readings     ReadingLister
	defaultLimit int
	logger       *zap.Logger
}

// NewHistoryHandler constructs a HistoryHandler. defaultLimit <= 0 selects DefaultHistoryLimit.
func NewHistoryHandler(sensors SensorGetter, readings ReadingLister, defaultLimit int, logger *zap.Logger) (*HistoryHandler, error) {
	if sensors == nil || readings == nil {
		return nil, errors.New("history handler: nil repository")
	}
	if defaultLimit <= 0 || defaultLimit > MaxHistoryLimit {
		defaultLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{sensors: sensors, readings: readings, defaultLimit: defaultLimit, logger: logger}, nil
}

// SensorRoutes mounts the history endpoints below a /sensors router.
func (h *HistoryHandler) SensorRoutes(r chi.Router) {
	r.Get("/{id}/readings", h.readingsJSON)
	r.Get("/{id}/readings.csv", h.readingsCSV)
	r.Get("/{id}/readings.xlsx", h.readingsXLSX)
}

type readingView struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

type historyView struct {
	SensorID string        `json:"sensorId"`
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Unit     string        `json:"unit"`
	Readings []readingView `json:"readings"`
}

func (h *HistoryHandler) readingsJSON(w http.ResponseWriter, r *http.Request) {
	sensor, readings, ok := h.load(w, r)
	if !ok {
		return
	}
	view := historyView{
		SensorID: sensor.ID,
		Name:     sensor.Name,
		Type:     string(sensor.Type),
		Unit:     sensor.Unit,
		Readings: make([]readingView, 0, len(readings)),
	}
	for _, reading := range readings {
		view.Readings = append(view.Readings, readingView{
			Timestamp: reading.Timestamp.UTC().Format(time.RFC3339Nano),
			Value:     reading.Value,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HistoryHandler) readingsCSV(w http.ResponseWriter, r *http.Request) {
	sensor, readings, ok := h.load(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteReadingsCSV(&buf, *sensor, readings); err != nil {
		h.logger.Error("readings csv export failed", zap.String("sensor_id", sensor.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="readings-%s.csv"`, sensor.ID))
	_, _ = w.Write(buf.Bytes())
}

func (h *HistoryHandler) readingsXLSX(w http.ResponseWriter, r *http.Request) {
	sensor, readings, ok := h.load(w, r)
	if !ok {
		return
	}
	data, err := export.BuildReadingsXLSX(*sensor, readings)
	if err != nil {
		h.logger.Error("readings xlsx export failed", zap.String("sensor_id", sensor.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="readings-%s.xlsx"`, sensor.ID))
	_, _ = w.Write(data)
}

func (h *HistoryHandler) load(w http.ResponseWriter, r *http.Request) (*registry.Sensor, []telemetry.Reading, bool) {
	limit, err := parseLimit(r, h.defaultLimit, MaxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	sensor, err := h.sensors.GetSensor(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrSensorNotFound) {
		writeError(w, http.StatusNotFound, "sensor not found")
		return nil, nil, false
	}
	if err != nil {
		h.logger.Error("load sensor failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil, false
	}
	readings, err := h.readings.ListRecentReadings(r.Context(), sensor.ID, limit)
	if err != nil {
		h.logger.Error("load readings failed", zap.String("sensor_id", sensor.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil, false
	}
	return sensor, readings, true
}
