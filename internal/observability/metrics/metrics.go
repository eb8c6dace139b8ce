package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "sensorhub_"

	resultSuccess = "success"
	resultPartial = "partial"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests   *prometheus.CounterVec
	ingestErrors     *prometheus.CounterVec
	ingestItemErrors *prometheus.CounterVec
	ingestLatency    *prometheus.HistogramVec
	readingsStored   prometheus.Counter

	auditWriteFailures prometheus.Counter
	eventPublishErrors *prometheus.CounterVec

	liveClients prometheus.Gauge
)

// Init registers observability metrics and DB-backed gauges. db may be nil.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total rejected or partially rejected ingest requests by error kind",
			},
			[]string{"kind"},
		)
		ingestItemErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_item_errors_total",
				Help: "Total rejected readings or metrics by error kind",
			},
			[]string{"kind"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		readingsStored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_persisted_total",
				Help: "Total readings persisted by ingestion",
			},
		)

		auditWriteFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "audit_write_failures_total",
				Help: "Total audit log writes that failed and were dropped",
			},
		)
		eventPublishErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_publish_errors_total",
				Help: "Total invalidation events that failed to publish by topic",
			},
			[]string{"topic"},
		)

		liveClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_clients",
				Help: "Connected live-refresh websocket clients",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestItemErrors,
			ingestLatency,
			readingsStored,
			auditWriteFailures,
			eventPublishErrors,
			liveClients,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the request-level error counter.
func IncIngestError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(kind).Inc()
	}
}

// IncItemError increments the item-level error counter.
func IncItemError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if ingestItemErrors != nil {
		ingestItemErrors.WithLabelValues(kind).Inc()
	}
}

// AddReadingsPersisted counts stored readings.
func AddReadingsPersisted(count int) {
	if count <= 0 {
		return
	}
	if readingsStored != nil {
		readingsStored.Add(float64(count))
	}
}

// IncAuditWriteFailure counts dropped audit entries.
func IncAuditWriteFailure() {
	if auditWriteFailures != nil {
		auditWriteFailures.Inc()
	}
}

// IncEventPublishError counts failed invalidation events.
func IncEventPublishError(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	if eventPublishErrors != nil {
		eventPublishErrors.WithLabelValues(topic).Inc()
	}
}

// SetLiveClients reports the connected websocket clients.
func SetLiveClients(count int) {
	if liveClients != nil {
		liveClients.Set(float64(count))
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultPartial = resultPartial
	IngestResultError   = resultError
)
