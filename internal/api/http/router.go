package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// APIPrefix is the root of the operator API.
const APIPrefix = "/api/v1"

// Pinger reports whether storage is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RegistryRoutes mounts /devices and /sensors; extra routes are added below /sensors.
type RegistryRoutes interface {
	Routes(r chi.Router, sensorRoutes ...func(chi.Router))
}

// RouterConfig lists the handlers served by the router. Nil handlers are not mounted.
type RouterConfig struct {
	Logger     *zap.Logger
	IngestPath string
	Ingest     http.Handler
	Registry   RegistryRoutes
	History    *HistoryHandler
	Audit      *AuditHandler
	Live       http.Handler
	Metrics    http.Handler
	Storage    Pinger
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Ingest == nil {
		return nil, errors.New("router: nil ingest handler")
	}
	if cfg.IngestPath == "" {
		return nil, errors.New("router: empty ingest path")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Handle(cfg.IngestPath, cfg.Ingest)
	r.Get("/healthz", health(cfg.Storage))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		if cfg.Registry != nil {
			var extra []func(chi.Router)
			if cfg.History != nil {
				extra = append(extra, cfg.History.SensorRoutes)
			}
			cfg.Registry.Routes(r, extra...)
		}
		if cfg.Audit != nil {
			r.Route("/audit-logs", cfg.Audit.Routes)
		}
		if cfg.Live != nil {
			r.Handle("/live", cfg.Live)
		}
	})
	return r, nil
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func health(storage Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if storage != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := storage.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
