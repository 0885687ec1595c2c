package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-reservation/internal/config"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes reservation lifecycle events, keyed by reservation id so
// every event of one reservation lands on the same partition.
type Producer struct {
	Writer messageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// Publish writes one message to topic.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, key)
	return nil
}

// PublishReservationEvent routes the event to the topic for its type.
func (p *Producer) PublishReservationEvent(ctx context.Context, event models.ReservationEvent) error {
	topic, err := p.topicFor(event.Type)
	if err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	return p.Publish(ctx, topic, event.ReservationID, value)
}

func (p *Producer) topicFor(eventType string) (string, error) {
	switch eventType {
	case models.ReservationEventCreated:
		return p.Topics.ReservationCreated, nil
	case models.ReservationEventConfirmed:
		return p.Topics.ReservationConfirmed, nil
	case models.ReservationEventCancelled:
		return p.Topics.ReservationCancelled, nil
	case models.ReservationEventExpired:
		return p.Topics.ReservationExpired, nil
	default:
		return "", fmt.Errorf("no topic for event type %q", eventType)
	}
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
