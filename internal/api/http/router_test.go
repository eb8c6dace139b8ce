package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"sensorhub/internal/eventing"
	ingestapp "sensorhub/internal/ingestion/application"
	ingestion "sensorhub/internal/ingestion/domain"
	ingesthttp "sensorhub/internal/ingestion/interfaces/http"
	registryapp "sensorhub/internal/registry/application"
	registryhttp "sensorhub/internal/registry/interfaces/http"
	"sensorhub/internal/storage/memory"
)

const ingestPath = "/api/ingest-readings"

type recordingBus struct {
	mu     sync.Mutex
	events []eventing.Event
}

func (b *recordingBus) Publish(ctx context.Context, event eventing.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) count(match func(eventing.Event) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, event := range b.events {
		if match(event) {
			n++
		}
	}
	return n
}

func newTestRouter(t *testing.T) (http.Handler, *recordingBus) {
	t.Helper()
	store := memory.NewStore()
	bus := &recordingBus{}

	ingestService, err := ingestapp.NewService(ingestion.DefaultMetricTable(), store, store, store, store, ingestapp.WithPublisher(bus))
	if err != nil {
		t.Fatalf("ingest service: %v", err)
	}
	ingestHandler, err := ingesthttp.NewHandler(ingestService)
	if err != nil {
		t.Fatalf("ingest handler: %v", err)
	}
	registryService, err := registryapp.NewService(store, store, store, registryapp.WithPublisher(bus))
	if err != nil {
		t.Fatalf("registry service: %v", err)
	}
	registryHandler, err := registryhttp.NewHandler(registryService, nil)
	if err != nil {
		t.Fatalf("registry handler: %v", err)
	}
	history, err := NewHistoryHandler(store, store, 0, nil)
	if err != nil {
		t.Fatalf("history handler: %v", err)
	}
	auditHandler, err := NewAuditHandler(store, WithAuditPublisher(bus))
	if err != nil {
		t.Fatalf("audit handler: %v", err)
	}

	router, err := NewRouter(RouterConfig{
		IngestPath: ingestPath,
		Ingest:     ingestHandler,
		Registry:   registryHandler,
		History:    history,
		Audit:      auditHandler,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return router, bus
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "198.51.100.4:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func createSensor(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/v1/devices", `{"visibleId":"DEV-100","name":"Greenhouse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create device: %d %s", rec.Code, rec.Body.String())
	}
	var device map[string]any
	decodeJSON(t, rec, &device)

	rec = do(t, router, http.MethodPost, "/api/v1/sensors",
		`{"name":"Air","type":"Temperature","channel":1,"unit":"","deviceId":"`+device["id"].(string)+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sensor: %d %s", rec.Code, rec.Body.String())
	}
	var sensor map[string]any
	decodeJSON(t, rec, &sensor)
	return sensor["id"].(string)
}

func TestIngestThenReadHistory(t *testing.T) {
	router, bus := newTestRouter(t)
	sensorID := createSensor(t, router)

	body := `{"device_id":"DEV-100","iso_timestamp":"2024-01-01T00:00:00Z","readings":[
		{"channel":1,"iso_timestamp":"2024-01-01T00:00:00Z","temperature":20.5},
		{"channel":1,"iso_timestamp":"2024-01-01T01:00:00Z","temperature":21.5},
		{"channel":1,"iso_timestamp":"2024-01-01T02:00:00Z","temperature":22.5}]}`
	rec := do(t, router, http.MethodPost, ingestPath, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/sensors/"+sensorID+"/readings?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	var history struct {
		SensorID string `json:"sensorId"`
		Unit     string `json:"unit"`
		Readings []struct {
			Timestamp string  `json:"timestamp"`
			Value     float64 `json:"value"`
		} `json:"readings"`
	}
	decodeJSON(t, rec, &history)
	if history.SensorID != sensorID || history.Unit != "°C" {
		t.Fatalf("unexpected sensor header: %+v", history)
	}
	if len(history.Readings) != 2 || history.Readings[0].Value != 21.5 || history.Readings[1].Value != 22.5 {
		t.Fatalf("expected the two newest readings oldest first, got %+v", history.Readings)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/sensors/"+sensorID+"/readings.csv", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 3 {
		t.Fatalf("expected header plus 3 rows, got %q", rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/sensors/"+sensorID+"/readings.xlsx", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("xlsx: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	ingested := bus.count(func(e eventing.Event) bool { _, ok := e.(eventing.ReadingsIngested); return ok })
	if ingested != 1 {
		t.Fatalf("expected one ReadingsIngested event, got %d", ingested)
	}
}

func TestHistoryErrors(t *testing.T) {
	router, _ := newTestRouter(t)
	sensorID := createSensor(t, router)

	if rec := do(t, router, http.MethodGet, "/api/v1/sensors/missing/readings", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	for _, limit := range []string{"0", "abc", "1001"} {
		rec := do(t, router, http.MethodGet, "/api/v1/sensors/"+sensorID+"/readings?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit %s: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestAuditLogLifecycle(t *testing.T) {
	router, bus := newTestRouter(t)

	rec := do(t, router, http.MethodPost, ingestPath, `{"device_id":"DEV-404","timestamp":"2024-01-01T00:00:00Z","readings":[{"channel":1,"co2":400}]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPost, ingestPath, `{"device_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/audit-logs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	var entries []map[string]any
	decodeJSON(t, rec, &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	kinds := map[string]bool{}
	for _, entry := range entries {
		kinds[entry["errorKind"].(string)] = true
		if entry["sourceAddress"] != "198.51.100.4" {
			t.Fatalf("unexpected source address: %v", entry["sourceAddress"])
		}
	}
	if !kinds["DeviceNotFound"] || !kinds["InvalidJson"] {
		t.Fatalf("unexpected kinds: %v", kinds)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/audit-logs?limit=1", "")
	decodeJSON(t, rec, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(entries))
	}

	rec = do(t, router, http.MethodGet, "/api/v1/audit-logs/report.pdf", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("report: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = do(t, router, http.MethodDelete, "/api/v1/audit-logs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", rec.Code, rec.Body.String())
	}
	var cleared map[string]any
	decodeJSON(t, rec, &cleared)
	if cleared["success"] != true || cleared["removed"] != float64(2) {
		t.Fatalf("unexpected clear response: %v", cleared)
	}
	clearedEvents := bus.count(func(e eventing.Event) bool {
		ev, ok := e.(eventing.AuditLogChanged)
		return ok && ev.Action == eventing.ActionCleared && ev.Removed == 2
	})
	if clearedEvents != 1 {
		t.Fatalf("expected one cleared event, got %d", clearedEvents)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/audit-logs", "")
	decodeJSON(t, rec, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(entries))
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error { return context.DeadlineExceeded }

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	if rec := do(t, router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	unhealthy, err := NewRouter(RouterConfig{IngestPath: ingestPath, Ingest: http.NotFoundHandler(), Storage: failingPinger{}})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if rec := do(t, unhealthy, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestNewRouterRequiresIngest(t *testing.T) {
	if _, err := NewRouter(RouterConfig{IngestPath: ingestPath}); err == nil {
		t.Fatalf("expected error without ingest handler")
	}
}
