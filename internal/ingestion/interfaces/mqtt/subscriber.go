package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	ingestapp "sensorhub/internal/ingestion/application"
	ingestion "sensorhub/internal/ingestion/domain"
)

// MethodMQTT marks audit entries of batches received over MQTT.
const MethodMQTT = "MQTT"

// Ingester runs one batch through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, body []byte, meta ingestapp.RequestMeta) ingestion.Result
}

// Config describes the broker connection.
type Config struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// Subscriber feeds MQTT messages into the ingestion pipeline.
type Subscriber struct {
	cfg      Config
	ingester Ingester
	logger   *zap.Logger
	client   paho.Client
}

// NewSubscriber constructs a subscriber. Connect must be called before messages flow.
func NewSubscriber(cfg Config, ingester Ingester, logger *zap.Logger) (*Subscriber, error) {
	if ingester == nil {
		return nil, errors.New("mqtt subscriber: nil ingester")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt subscriber: empty broker url")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt subscriber: empty topic")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sensorhub"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt subscriber: invalid qos %d", cfg.QoS)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, ingester: ingester, logger: logger}, nil
}

// Connect dials the broker and subscribes. The subscription is restored on reconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(client paho.Client) {
		s.logger.Info("mqtt connected", zap.String("broker", s.cfg.BrokerURL), zap.String("topic", s.cfg.Topic))
		token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			s.HandleMessage(context.WithoutCancel(ctx), msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	}

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.BrokerURL, err)
	}
	return nil
}

// HandleMessage ingests one message body exactly like an HTTP request.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) ingestion.Result {
	result := s.ingester.Ingest(ctx, payload, ingestapp.RequestMeta{
		SourceAddress: s.cfg.BrokerURL,
		Method:        MethodMQTT,
		Path:          topic,
		Source:        "mqtt",
	})
	fields := []zap.Field{
		zap.String("topic", topic),
		zap.Int("status", result.Status),
		zap.String("device_id", result.DeviceID),
		zap.Int("processed", result.Processed),
		zap.Int("attempted", result.Attempted),
	}
	if result.Failed() {
		s.logger.Warn("mqtt batch rejected", append(fields, zap.String("error_kind", string(result.Kind)), zap.String("message", result.Message))...)
	} else {
		s.logger.Debug("mqtt batch ingested", fields...)
	}
	return result
}

// Close unsubscribes and disconnects.
func (s *Subscriber) Close() {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}
