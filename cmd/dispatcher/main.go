package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/kafka"
	"github.com/snappy-loop/podcaststudio/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting Podcast Studio Webhook Dispatcher")

	if !cfg.KafkaEnabled() {
		log.Fatal().Msg("KAFKA_BROKERS is required for the dispatcher")
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	sender := webhook.NewSender(&http.Client{Timeout: 30 * time.Second}, cfg.WebhookSecret)
	deliveryService := webhook.NewDeliveryService(database.NewWebhookDeliveryRepository(db), sender, cfg)

	consumer := kafka.NewConsumer[kafka.WebhookMessage](
		cfg.KafkaBrokers,
		cfg.KafkaTopicWebhooks,
		"webhook-dispatcher",
		deliveryService,
	)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveryService.Start(ctx)
	defer deliveryService.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	log.Info().Msg("Dispatcher started, consuming webhook events...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down dispatcher...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Consumer did not stop in time")
	}

	log.Info().Msg("Dispatcher exited")
}
