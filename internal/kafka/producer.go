package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	CleanupRuns   string
	PaymentEvents string
}

type Producer struct {
	Writer MessageWriter
	Topics Topics
	log    *logger.Logger
}

// NewProducer builds a writer without a fixed topic; every message names its own.
func NewProducer(brokers []string, topics Topics, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, topics, log)
}

func NewProducerWithWriter(writer MessageWriter, topics Topics, log *logger.Logger) *Producer {
	return &Producer{Writer: writer, Topics: topics, log: log}
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}

	p.log.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(msgBytes)))

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to publish to %s: %v", topic, err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishCleanupRun streams one reconciliation pass result, keyed by its timestamp.
func (p *Producer) PublishCleanupRun(ctx context.Context, result models.CleanupRunResult) error {
	return p.publish(ctx, p.Topics.CleanupRuns, result.Timestamp.UTC().Format(time.RFC3339Nano), result)
}

// PublishPaymentEvent streams a payment state change, keyed by payment id so
// events for one payment stay ordered within a partition.
func (p *Producer) PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	return p.publish(ctx, p.Topics.PaymentEvents, event.PaymentID, event)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
