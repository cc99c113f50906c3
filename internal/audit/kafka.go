// Package audit publishes invocation records to a Kafka topic when brokers
// are configured. Publishing is best-effort; the invocation path never
// blocks on Kafka availability.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/drover-ai/drover/internal/agent"
)

// KafkaPublisher writes invocation records to a single topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
			// The audit stream must not stall invocations.
			Async: true,
		},
	}
}

// Record publishes one invocation record, keyed by session group so a
// group's audit trail stays ordered within a partition.
func (p *KafkaPublisher) Record(ctx context.Context, rec *agent.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Group),
		Value: payload,
	})
	if err != nil {
		slog.Warn("Audit publish failed", "name", rec.Name, "error", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
