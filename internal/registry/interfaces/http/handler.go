package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	registryapp "sensorhub/internal/registry/application"
	registry "sensorhub/internal/registry/domain"
)

const timeLayout = time.RFC3339Nano

// Handler provides device and sensor CRUD endpoints.
type Handler struct {
	service *registryapp.Service
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *registryapp.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("registry handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// Routes mounts /devices and /sensors on r. sensorRoutes are mounted inside /sensors.
func (h *Handler) Routes(r chi.Router, sensorRoutes ...func(chi.Router)) {
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.listDevices)
		r.Post("/", h.createDevice)
		r.Get("/{id}", h.getDevice)
		r.Put("/{id}", h.updateDevice)
		r.Delete("/{id}", h.deleteDevice)
	})
	r.Route("/sensors", func(r chi.Router) {
		r.Get("/", h.listSensors)
		r.Post("/", h.createSensor)
		r.Get("/{id}", h.getSensor)
		r.Put("/{id}", h.updateSensor)
		r.Delete("/{id}", h.deleteSensor)
		for _, mount := range sensorRoutes {
			mount(r)
		}
	})
}

type deviceRequest struct {
	VisibleID string `json:"visibleId"`
	Name      string `json:"name"`
}

type deviceView struct {
	ID        string `json:"id"`
	VisibleID string `json:"visibleId"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type sensorRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Channel      int      `json:"channel"`
	Unit         string   `json:"unit"`
	DeviceID     string   `json:"deviceId"`
	InitialValue *float64 `json:"initialValue"`
}

type sensorView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Channel       int      `json:"channel"`
	Unit          string   `json:"unit"`
	DeviceID      string   `json:"deviceId"`
	CurrentValue  *float64 `json:"currentValue"`
	LastTimestamp *string  `json:"lastTimestamp"`
}

func toDeviceView(d registry.Device) deviceView {
	view := deviceView{ID: d.ID, VisibleID: d.VisibleID, Name: d.Name}
	if !d.CreatedAt.IsZero() {
		view.CreatedAt = d.CreatedAt.UTC().Format(timeLayout)
	}
	if !d.UpdatedAt.IsZero() {
		view.UpdatedAt = d.UpdatedAt.UTC().Format(timeLayout)
	}
	return view
}

func toSensorView(s registry.Sensor) sensorView {
	view := sensorView{
		ID:           s.ID,
		Name:         s.Name,
		Type:         string(s.Type),
		Channel:      s.Channel,
		Unit:         s.Unit,
		DeviceID:     s.DeviceID,
		CurrentValue: s.CurrentValue,
	}
	if s.LastTimestamp != nil {
		ts := s.LastTimestamp.UTC().Format(timeLayout)
		view.LastTimestamp = &ts
	}
	return view
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.ListDevices(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for _, device := range devices {
		out = append(out, toDeviceView(device))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.service.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceView(*device))
}

func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decode(w, r, &req) {
		return
	}
	device, err := h.service.CreateDevice(r.Context(), registryapp.DeviceInput{VisibleID: req.VisibleID, Name: req.Name})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceView(*device))
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decode(w, r, &req) {
		return
	}
	device, err := h.service.UpdateDevice(r.Context(), chi.URLParam(r, "id"), registryapp.DeviceInput{VisibleID: req.VisibleID, Name: req.Name})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceView(*device))
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.service.ListSensors(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]sensorView, 0, len(sensors))
	for _, sensor := range sensors {
		out = append(out, toSensorView(sensor))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getSensor(w http.ResponseWriter, r *http.Request) {
	sensor, err := h.service.GetSensor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSensorView(*sensor))
}

func (h *Handler) createSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if !decode(w, r, &req) {
		return
	}
	sensor, err := h.service.CreateSensor(r.Context(), req.input())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSensorView(*sensor))
}

func (h *Handler) updateSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if !decode(w, r, &req) {
		return
	}
	sensor, err := h.service.UpdateSensor(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSensorView(*sensor))
}

func (h *Handler) deleteSensor(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSensor(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req sensorRequest) input() registryapp.SensorInput {
	return registryapp.SensorInput{
		Name:         req.Name,
		Type:         registry.SensorType(req.Type),
		Channel:      req.Channel,
		Unit:         req.Unit,
		DeviceID:     req.DeviceID,
		InitialValue: req.InitialValue,
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidDevice), errors.Is(err, registry.ErrInvalidSensor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrDeviceNotFound), errors.Is(err, registry.ErrSensorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrDuplicateVisibleID), errors.Is(err, registry.ErrDuplicateSensor):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("registry request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
