package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads event.published messages from the catalog.
type Consumer struct {
	reader messageReader
	Logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Consumer{reader: reader, Logger: log}
}

// Start hands each published event to handler until ctx is done. A message
// is committed once handled or once it is known to be unreadable; handler
// failures leave it uncommitted so it is redelivered.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, event models.EventPublished) error) error {
	c.Logger.Info("KAFKA", "Consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.Logger.Info("KAFKA", "Consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var event models.EventPublished
		if err := json.Unmarshal(msg.Value, &event); err != nil || event.EventID == "" {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Skipping unreadable message at offset %d on %s", msg.Offset, msg.Topic))
			c.commit(ctx, msg)
			continue
		}

		if err := handler(ctx, event); err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to handle event.published for %s: %v", event.EventID, err))
			continue
		}
		c.Logger.LogKafka("CONSUME", msg.Topic, event.EventID)
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
