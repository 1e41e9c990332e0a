package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/auth"
	"github.com/snappy-loop/podcaststudio/internal/cache"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/credentials"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/handlers"
	"github.com/snappy-loop/podcaststudio/internal/kafka"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/services"
	"github.com/snappy-loop/podcaststudio/internal/storage"
	"github.com/snappy-loop/podcaststudio/internal/vendors"
	"github.com/snappy-loop/podcaststudio/internal/webhook"
	"github.com/snappy-loop/podcaststudio/migrations"
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

	log.Info().Msg("Starting Podcast Studio API")

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(context.Background(), db.DB); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	var statusCache cache.Cache = cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		statusCache = redisCache
	}
	defer statusCache.Close()

	var media services.MediaStore
	if cfg.StorageEnabled() {
		storageClient, err := storage.NewClient(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("S3 not available; audio will be returned inline only")
		} else {
			media = storageClient
		}
	}

	var (
		videoPublisher   services.VideoJobPublisher
		webhookPublisher webhook.Publisher
	)
	if cfg.KafkaEnabled() {
		videoProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicVideos)
		defer videoProducer.Close()
		webhookProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicWebhooks)
		defer webhookProducer.Close()
		videoPublisher = videoProducer
		webhookPublisher = webhookProducer
	} else {
		log.Info().Msg("Kafka not configured; video jobs are polled in-process")
	}

	notifier := webhook.NewNotifier(cfg.WebhookURL, webhookPublisher,
		webhook.NewSender(&http.Client{Timeout: 30 * time.Second}, cfg.WebhookSecret))

	vendorRelay := relay.New(credentials.FromConfig(cfg), &http.Client{Timeout: cfg.RelayTimeout}, relay.DefaultTargets(cfg)...)
	registry := vendors.NewRegistry(vendorRelay)

	runCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	podcastService := services.NewPodcastService(db, media)
	pipelineService := services.NewPipelineService(db, llm.NewClient(cfg), media, notifier)
	videoService := services.NewVideoService(runCtx, db, registry, statusCache, videoPublisher, notifier, cfg)

	if videoPublisher == nil {
		if n, err := videoService.ResumeUnfinished(runCtx); err != nil {
			log.Error().Err(err).Msg("Failed to resume unfinished video jobs")
		} else if n > 0 {
			log.Info().Int("count", n).Msg("Resumed unfinished video jobs")
		}
	}

	h := handlers.NewHandler(podcastService, pipelineService, videoService, map[string]handlers.HealthChecker{
		"database": db.Health,
		"cache":    statusCache.Ping,
	})

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/podcasts", h.SavePodcast).Methods("POST")
	api.HandleFunc("/podcasts", h.ListPodcasts).Methods("GET")
	api.HandleFunc("/podcasts/{id}", h.GetPodcast).Methods("GET")
	api.HandleFunc("/podcasts/{id}", h.DeletePodcast).Methods("DELETE")
	api.HandleFunc("/scripts", h.GenerateScript).Methods("POST")
	api.HandleFunc("/audio", h.SynthesizeAudio).Methods("POST")
	api.HandleFunc("/videos", h.CreateVideo).Methods("POST")
	api.HandleFunc("/videos/{id}", h.GetVideo).Methods("GET")
	api.HandleFunc("/videos/{id}/ws", h.VideoWS).Methods("GET")

	guard := auth.NewTokenGuard(cfg.RelayTokenHash)
	proxy := relay.NewHandler(vendorRelay, cfg.CORSAllowedOrigin)
	r.Handle("/proxy/{vendor}", proxy.WithCORS(guard.Middleware(proxy))).
		Methods("POST", "OPTIONS", "GET")

	// Relayed vendor calls and speech synthesis can outlast a 15s write window.
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RelayTimeout + 15*time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	stopJobs()
	videoService.Wait()
	notifier.Wait()
	log.Info().Msg("API exited")
}
