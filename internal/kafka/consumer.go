package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageHandler processes decoded Kafka messages
type MessageHandler[M any] interface {
	HandleMessage(ctx context.Context, msg *M) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc[M any] func(ctx context.Context, msg *M) error

func (f HandlerFunc[M]) HandleMessage(ctx context.Context, msg *M) error {
	return f(ctx, msg)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic and hands each message to its handler
type Consumer[M any] struct {
	reader  messageReader
	handler MessageHandler[M]

	concurrency    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxRetriesSkip int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer[M any](brokers []string, topic, groupID string, handler MessageHandler[M]) *Consumer[M] {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // manual commits
		// Start from the earliest message when the group has no committed
		// offset so work published before the first deployment is not lost.
		StartOffset: kafka.FirstOffset,
	})

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Kafka consumer initialized")

	return newConsumer(reader, handler)
}

func newConsumer[M any](reader messageReader, handler MessageHandler[M]) *Consumer[M] {
	return &Consumer[M]{
		reader:         reader,
		handler:        handler,
		concurrency:    1,
		baseDelay:      1 * time.Second,
		maxDelay:       5 * time.Minute,
		maxRetriesSkip: 50,
	}
}

// SetConcurrency bounds how many messages are handled at once. Values below
// one are treated as one. With more than one, offsets may be committed out of
// order, so handlers must tolerate redelivery of work that was in flight.
func (c *Consumer[M]) SetConcurrency(n int) {
	c.concurrency = max(n, 1)
}

// Start consumes messages until ctx is cancelled
func (c *Consumer[M]) Start(ctx context.Context) error {
	log.Info().Int("concurrency", c.concurrency).Msg("Starting Kafka consumer")

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Consumer context cancelled, stopping")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		// blocks while concurrency handlers are busy
		g.Go(func() error {
			c.handle(ctx, msg)
			return nil
		})
	}
}

// handle retries msg with backoff, skips it after maxRetriesSkip so one bad
// message cannot block the partition, then commits it.
func (c *Consumer[M]) handle(ctx context.Context, msg kafka.Message) {
	const maxBackoffShift = 10

	var lastErr error
	for attempt := 0; attempt < c.maxRetriesSkip; attempt++ {
		lastErr = c.processMessage(ctx, msg)
		if lastErr == nil {
			break
		}

		log.Error().
			Err(lastErr).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetriesSkip).
			Msg("Failed to process message - will retry")

		delay := c.baseDelay * time.Duration(1<<uint(min(attempt, maxBackoffShift)))
		if delay > c.maxDelay {
			delay = c.maxDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if lastErr != nil {
		log.Error().
			Err(lastErr).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("CRITICAL: Message processing failed after all retries - SKIPPING MESSAGE")
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		// handlers are idempotent; a redelivery after restart is harmless
		log.Error().Err(err).Msg("Failed to commit message")
	}
}

func (c *Consumer[M]) processMessage(ctx context.Context, msg kafka.Message) error {
	log.Debug().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Processing message")

	var decoded M
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := c.handler.HandleMessage(ctx, &decoded); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}

	log.Debug().
		Str("topic", msg.Topic).
		Int64("offset", msg.Offset).
		Msg("Message processed successfully")

	return nil
}

// Close closes the consumer
func (c *Consumer[M]) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
