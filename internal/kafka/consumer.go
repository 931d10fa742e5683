package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConfirmationHandler func(ctx context.Context, confirmation models.GatewayConfirmation) error

// Consumer reads gateway confirmations. Offsets are committed after the
// handler returns, so a crash mid-message redelivers it; the store
// transitions make the replay harmless.
type Consumer struct {
	reader MessageReader
	log    *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, log: log}
}

// Start blocks until ctx is cancelled or the reader fails permanently.
func (c *Consumer) Start(ctx context.Context, handler ConfirmationHandler) error {
	c.log.LogKafka("START", "", "Gateway confirmation consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.LogKafka("STOP", "", "Gateway confirmation consumer stopped")
				return nil
			}
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		var confirmation models.GatewayConfirmation
		if err := json.Unmarshal(msg.Value, &confirmation); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Skipping malformed confirmation at offset %d: %v", msg.Offset, err))
		} else if err := handler(ctx, confirmation); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Confirmation for %s not applied: %v", confirmation.Identifier, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
