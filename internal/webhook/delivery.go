package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/kafka"
	"github.com/snappy-loop/podcaststudio/internal/models"
)

// deliveryStore is the subset of webhook delivery DB operations used here.
type deliveryStore interface {
	Create(ctx context.Context, delivery *models.WebhookDelivery) error
	Update(ctx context.Context, delivery *models.WebhookDelivery) error
	GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error)
}

// DeliveryService delivers webhook messages consumed from Kafka, recording
// every attempt and retrying transient failures in the background.
type DeliveryService struct {
	store       deliveryStore
	sender      *Sender
	config      *config.Config
	retryWorker *RetryWorker
}

// NewDeliveryService creates a new webhook delivery service
func NewDeliveryService(store deliveryStore, sender *Sender, cfg *config.Config) *DeliveryService {
	service := &DeliveryService{
		store:  store,
		sender: sender,
		config: cfg,
	}
	service.retryWorker = NewRetryWorker(service, cfg)
	return service
}

// Start starts the background retry worker
func (s *DeliveryService) Start(ctx context.Context) {
	s.retryWorker.Start(ctx)
}

// Stop stops the background retry worker
func (s *DeliveryService) Stop() {
	s.retryWorker.Stop()
}

// HandleMessage makes one immediate attempt and leaves transient failures
// to the retry worker. It only returns an error when the delivery could not
// be recorded, so the consumer retries the message.
func (s *DeliveryService) HandleMessage(ctx context.Context, msg *kafka.WebhookMessage) error {
	payload, err := json.Marshal(Payload{Event: msg.Event, Timestamp: msg.Timestamp, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		ID:        msg.ID,
		Event:     msg.Event,
		URL:       msg.URL,
		Payload:   payload,
		Status:    models.DeliveryPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, delivery); err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}

	s.attempt(ctx, delivery)
	return nil
}

// attempt sends a delivery once and records the outcome
func (s *DeliveryService) attempt(ctx context.Context, delivery *models.WebhookDelivery) {
	delivery.Attempts++
	now := time.Now()
	delivery.LastAttemptAt = &now

	var payload Payload
	err := json.Unmarshal(delivery.Payload, &payload)
	if err == nil {
		err = s.sender.Send(ctx, delivery.URL, payload)
	}

	logger := log.With().
		Str("delivery_id", delivery.ID.String()).
		Str("event", delivery.Event).
		Str("url", delivery.URL).
		Int("attempt", delivery.Attempts).
		Logger()

	switch {
	case err == nil:
		delivery.Status = models.DeliverySent
		delivery.LastError = nil
		logger.Info().Msg("Webhook delivered")

	default:
		errMsg := err.Error()
		delivery.LastError = &errMsg

		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) && !deliveryErr.IsRetryable() {
			delivery.Status = models.DeliveryFailed
			logger.Error().
				Err(err).
				Int("status_code", deliveryErr.StatusCode).
				Msg("Webhook delivery failed with permanent error - not retrying")
		} else if delivery.Attempts >= s.config.WebhookMaxRetries {
			delivery.Status = models.DeliveryFailed
			logger.Error().Err(err).Msg("Webhook delivery failed permanently after max retries")
		} else {
			delivery.Status = models.DeliveryPending
			logger.Warn().Err(err).Msg("Webhook delivery failed - scheduled for retry")
		}
	}

	if err := s.store.Update(ctx, delivery); err != nil {
		logger.Error().Err(err).Msg("Failed to update delivery record")
	}
}

// RetryWorker handles background retry of failed webhook deliveries
type RetryWorker struct {
	service  *DeliveryService
	config   *config.Config
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(service *DeliveryService, cfg *config.Config) *RetryWorker {
	return &RetryWorker{
		service:  service,
		config:   cfg,
		interval: 10 * time.Second,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start starts the retry worker
func (w *RetryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)

	go func() {
		defer ticker.Stop()
		log.Info().Msg("Retry worker started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Retry worker context cancelled, stopping")
				return
			case <-w.stopChan:
				log.Info().Msg("Retry worker stopped")
				return
			case <-ticker.C:
				w.processPendingDeliveries(ctx)
			}
		}
	}()
}

// Stop stops the retry worker
func (w *RetryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// processPendingDeliveries retries pending deliveries whose backoff elapsed
func (w *RetryWorker) processPendingDeliveries(ctx context.Context) {
	deliveries, err := w.service.store.GetPendingDeliveries(ctx, 100)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get pending deliveries")
		return
	}

	if len(deliveries) == 0 {
		return
	}

	log.Info().Int("count", len(deliveries)).Msg("Processing pending webhook deliveries")

	for _, delivery := range deliveries {
		if !w.due(delivery) {
			continue
		}
		w.service.attempt(ctx, delivery)
	}
}

// due reports whether the exponential backoff since the last attempt elapsed
func (w *RetryWorker) due(delivery *models.WebhookDelivery) bool {
	if delivery.LastAttemptAt == nil || delivery.Attempts == 0 {
		return true
	}

	// baseDelay * 2^(attempt-1); the first attempt was immediate
	backoff := w.config.WebhookRetryBaseDelay * time.Duration(1<<uint(min(delivery.Attempts-1, 20)))
	if backoff > w.config.WebhookRetryMaxDelay {
		backoff = w.config.WebhookRetryMaxDelay
	}

	return !w.now().Before(delivery.LastAttemptAt.Add(backoff))
}
