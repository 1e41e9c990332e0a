package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Producer wraps a Kafka producer for one topic
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
	}

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka producer initialized")

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishVideoJob publishes a video job for the worker
func (p *Producer) PublishVideoJob(ctx context.Context, jobID uuid.UUID, traceID string) error {
	msg := VideoJobMessage{JobID: jobID, TraceID: traceID}
	if err := p.publish(ctx, msg.key(), msg); err != nil {
		return fmt.Errorf("failed to publish video job: %w", err)
	}

	log.Info().
		Str("job_id", jobID.String()).
		Str("topic", p.topic).
		Msg("Video job published to Kafka")

	return nil
}

// PublishWebhook publishes a webhook notification for the dispatcher
func (p *Producer) PublishWebhook(ctx context.Context, msg WebhookMessage) error {
	if err := p.publish(ctx, msg.key(), msg); err != nil {
		return fmt.Errorf("failed to publish webhook: %w", err)
	}

	log.Info().
		Str("delivery_id", msg.ID.String()).
		Str("event", msg.Event).
		Str("topic", p.topic).
		Msg("Webhook event published to Kafka")

	return nil
}

func (p *Producer) publish(ctx context.Context, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data}); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	log.Info().Str("topic", p.topic).Msg("Closing Kafka producer")
	return p.writer.Close()
}
