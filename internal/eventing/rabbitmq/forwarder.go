package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"sensorhub/internal/eventing"
	"sensorhub/internal/observability/metrics"
)

// RoutingKeyPrefix prefixes the event topic in every routing key.
const RoutingKeyPrefix = "sensorhub."

// Publisher is the part of *amqp.Channel the forwarder uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Forwarder publishes bus events to a topic exchange as JSON envelopes.
type Forwarder struct {
	publisher Publisher
	exchange  string
	logger    *zap.Logger
	closers   []func() error
}

// NewForwarder wraps an open publisher.
func NewForwarder(publisher Publisher, exchange string, logger *zap.Logger) (*Forwarder, error) {
	if publisher == nil {
		return nil, errors.New("rabbitmq forwarder: nil publisher")
	}
	if exchange == "" {
		return nil, errors.New("rabbitmq forwarder: empty exchange")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{publisher: publisher, exchange: exchange, logger: logger}, nil
}

// Dial connects with retry, declares the durable topic exchange and returns a forwarder on a fresh channel.
func Dial(ctx context.Context, url, exchange string, maxRetries int, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: connect after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	logger.Info("rabbitmq forwarder ready", zap.String("exchange", exchange))

	fwd, err := NewForwarder(ch, exchange, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	fwd.closers = []func() error{ch.Close, conn.Close}
	return fwd, nil
}

// HandleEvent is an eventing.Handler that publishes event under its topic's routing key.
func (f *Forwarder) HandleEvent(ctx context.Context, event eventing.Event) error {
	envelope, err := eventing.BuildEnvelope(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	key := RoutingKey(envelope.Topic)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.EventID,
		Type:         envelope.EventType,
		Timestamp:    envelope.OccurredAt,
		Body:         body,
	}
	if err := f.publisher.PublishWithContext(ctx, f.exchange, key, false, false, msg); err != nil {
		metrics.IncEventPublishError(envelope.Topic)
		f.logger.Warn("rabbitmq publish failed", zap.String("routing_key", key), zap.Error(err))
		return err
	}
	return nil
}

// Close closes the channel and connection opened by Dial.
func (f *Forwarder) Close() error {
	var errs []error
	for _, closeFn := range f.closers {
		if err := closeFn(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RoutingKey maps an event topic to its routing key.
func RoutingKey(topic string) string {
	return RoutingKeyPrefix + topic
}
