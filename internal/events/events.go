// Package events publishes trade lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/config"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeOrderRecorded  = "order.recorded"
	TypePositionClosed = "position.closed"
	TypeEmergencyStop  = "emergency.stop"
)

// Event is the JSON envelope written to the topic.
type Event struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Time     time.Time   `json:"time"`
	Exchange string      `json:"exchange,omitempty"`
	Symbol   string      `json:"symbol,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, exchange, symbol string, data interface{}) Event {
	return Event{ID: uuid.NewString(), Type: eventType, Time: time.Now().UTC(), Exchange: exchange, Symbol: symbol, Data: data}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by symbol so per-symbol order is kept.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates an async publisher on cfg.Topic.
func NewKafkaPublisher(cfg config.Kafka, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	return NewKafkaPublisherWithWriter(writer, logger)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger.Named("events")}
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func NewPublisher(cfg config.Kafka, logger *zap.Logger) Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		logger.Info("Kafka not configured, trade events are not published")
		return NopPublisher{}
	}
	logger.Info("Publishing trade events", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return NewKafkaPublisher(cfg, logger)
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Symbol),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
		Time: e.Time,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("type", e.Type), zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
