package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	registryapp "sensorhub/internal/registry/application"
	"sensorhub/internal/storage/memory"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewStore()
	service, err := registryapp.NewService(store, store, store)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	handler, err := NewHandler(service, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { handler.Routes(r) })
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDeviceLifecycle(t *testing.T) {
	router := newRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":"DEV-100","name":"Lab"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" || created["visibleId"] != "DEV-100" {
		t.Fatalf("unexpected device: %v", created)
	}

	if rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":"DEV-100","name":"Again"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":"","name":"Blank"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid: %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/api/v1/devices/"+id, `{"visibleId":"DEV-101","name":"Lab 2"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "DEV-101") {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/devices", "")
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %s %v", rec.Body.String(), err)
	}

	if rec := do(t, router, http.MethodDelete, "/api/v1/devices/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, router, http.MethodGet, "/api/v1/devices/"+id, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rec.Code)
	}
}

func TestSensorLifecycle(t *testing.T) {
	router := newRouter(t)
	rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":"DEV-1","name":"Lab"}`)
	var device map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &device)
	deviceID := device["id"].(string)

	body := `{"name":"Air","type":"Temperature","channel":1,"deviceId":"` + deviceID + `","initialValue":21.5}`
	rec = do(t, router, http.MethodPost, "/api/v1/sensors", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sensor: %d %s", rec.Code, rec.Body.String())
	}
	var sensor map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &sensor)
	if sensor["unit"] != "°C" || sensor["currentValue"] != 21.5 || sensor["lastTimestamp"] == nil {
		t.Fatalf("unexpected sensor: %v", sensor)
	}

	if rec := do(t, router, http.MethodPost, "/api/v1/sensors", body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate sensor: %d", rec.Code)
	}
	bad := `{"name":"Air","type":"temperature","channel":1,"deviceId":"` + deviceID + `"}`
	if rec := do(t, router, http.MethodPost, "/api/v1/sensors", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: %d", rec.Code)
	}
	orphan := `{"name":"Air","type":"Light","channel":1,"deviceId":"missing"}`
	if rec := do(t, router, http.MethodPost, "/api/v1/sensors", orphan); rec.Code != http.StatusNotFound {
		t.Fatalf("orphan: %d", rec.Code)
	}

	sensorID := sensor["id"].(string)
	if rec := do(t, router, http.MethodDelete, "/api/v1/sensors/"+sensorID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, router, http.MethodDelete, "/api/v1/sensors/"+sensorID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete again: %d", rec.Code)
	}
}
