package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "sensorhub/internal/api/http"
	"sensorhub/internal/config"
	"sensorhub/internal/eventing"
	"sensorhub/internal/eventing/rabbitmq"
	ingestapp "sensorhub/internal/ingestion/application"
	ingestion "sensorhub/internal/ingestion/domain"
	ingesthttp "sensorhub/internal/ingestion/interfaces/http"
	ingestmqtt "sensorhub/internal/ingestion/interfaces/mqtt"
	"sensorhub/internal/live"
	"sensorhub/internal/logging"
	"sensorhub/internal/observability/metrics"
	registryapp "sensorhub/internal/registry/application"
	registryhttp "sensorhub/internal/registry/interfaces/http"
	"sensorhub/internal/storage"
)

func main() {
	cfg, err := config.Load(config.Options{ConfigPaths: []string{"."}})
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	metrics.Init(backend.DB, logger)

	metricTable, err := ingestion.LoadMetricTable(cfg.MetricsConfig)
	if err != nil {
		return err
	}

	bus := eventing.NewInMemoryBus()
	hub := live.NewHub(logger)
	go hub.Run(ctx)
	eventing.SubscribeInvalidations(bus, hub.HandleEvent)

	if cfg.RabbitMQURL != "" {
		forwarder, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange, 5, logger)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		bus.SubscribeAll(forwarder.HandleEvent)
	}

	ingestService, err := ingestapp.NewService(metricTable, backend.Devices, backend.Sensors, backend.Readings, backend.Audit,
		ingestapp.WithPublisher(bus),
		ingestapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	ingestHandler, err := ingesthttp.NewHandler(ingestService,
		ingesthttp.WithMaxBodyBytes(cfg.IngestMaxBodyBytes),
		ingesthttp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	registryService, err := registryapp.NewService(backend.Devices, backend.Sensors, backend.Readings,
		registryapp.WithPublisher(bus),
		registryapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	registryHandler, err := registryhttp.NewHandler(registryService, logger)
	if err != nil {
		return err
	}
	historyHandler, err := apihttp.NewHistoryHandler(backend.Sensors, backend.Readings, cfg.HistoryDefaultLimit, logger)
	if err != nil {
		return err
	}
	auditHandler, err := apihttp.NewAuditHandler(backend.Audit,
		apihttp.WithAuditPublisher(bus),
		apihttp.WithAuditDefaultLimit(cfg.AuditDefaultLimit),
		apihttp.WithAuditLogger(logger),
	)
	if err != nil {
		return err
	}

	routerCfg := apihttp.RouterConfig{
		Logger:     logger,
		IngestPath: cfg.IngestPath,
		Ingest:     ingestHandler,
		Registry:   registryHandler,
		History:    historyHandler,
		Audit:      auditHandler,
		Live:       hub,
		Metrics:    promhttp.Handler(),
	}
	if backend.DB != nil {
		routerCfg.Storage = backend.DB
	}
	router, err := apihttp.NewRouter(routerCfg)
	if err != nil {
		return err
	}

	if cfg.MQTTBrokerURL != "" {
		subscriber, err := ingestmqtt.NewSubscriber(ingestmqtt.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			Topic:     cfg.MQTTTopic,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			QoS:       1,
		}, ingestService, logger)
		if err != nil {
			return err
		}
		if err := subscriber.Connect(ctx); err != nil {
			return err
		}
		defer subscriber.Close()
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("ingest_path", cfg.IngestPath),
			zap.String("storage", backend.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
