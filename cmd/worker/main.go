package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/cache"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/credentials"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/kafka"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/services"
	"github.com/snappy-loop/podcaststudio/internal/vendors"
	"github.com/snappy-loop/podcaststudio/internal/webhook"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
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

	log.Info().Msg("Starting Podcast Studio Worker")

	if !cfg.KafkaEnabled() {
		log.Fatal().Msg("KAFKA_BROKERS is required for the worker")
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	var statusCache cache.Cache = cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		statusCache = redisCache
	} else {
		log.Warn().Msg("REDIS_URL not set; API websocket clients will not see worker progress")
	}
	defer statusCache.Close()

	webhookProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicWebhooks)
	defer webhookProducer.Close()
	notifier := webhook.NewNotifier(cfg.WebhookURL, webhookProducer,
		webhook.NewSender(&http.Client{Timeout: 30 * time.Second}, cfg.WebhookSecret))

	vendorRelay := relay.New(credentials.FromConfig(cfg), &http.Client{Timeout: cfg.RelayTimeout}, relay.DefaultTargets(cfg)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No publisher: jobs resumed here are polled in this process.
	videoService := services.NewVideoService(ctx, db, vendors.NewRegistry(vendorRelay), statusCache, nil, notifier, cfg)

	consumer := kafka.NewConsumer[kafka.VideoJobMessage](cfg.KafkaBrokers, cfg.KafkaTopicVideos, cfg.KafkaConsumerGroup,
		kafka.HandlerFunc[kafka.VideoJobMessage](func(ctx context.Context, msg *kafka.VideoJobMessage) error {
			log.Info().Str("job_id", msg.JobID.String()).Str("trace_id", msg.TraceID).Msg("Processing video job")
			err := videoService.RunVideoJob(ctx, msg.JobID)
			if errors.Is(err, database.ErrNotFound) {
				log.Warn().Str("job_id", msg.JobID.String()).Msg("Video job no longer exists, skipping")
				return nil
			}
			return err
		}))
	consumer.SetConcurrency(cfg.WorkerConcurrency)
	defer consumer.Close()

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("Failed to listen for gRPC health")
	}

	if n, err := videoService.ResumeUnfinished(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume unfinished video jobs")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("Resumed unfinished video jobs")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
		return nil
	})

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	log.Info().Msg("Worker started, consuming video jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
	}

	videoService.Wait()
	notifier.Wait()
	log.Info().Msg("Worker exited")
}
