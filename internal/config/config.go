package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	GRPCAddr string // worker health endpoint
	LogLevel string

	// Database
	DatabaseURL string

	// Redis (job status cache); empty disables caching
	RedisURL          string
	JobStatusCacheTTL time.Duration

	// Kafka; empty brokers means jobs are driven in-process
	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaTopicVideos   string
	KafkaTopicWebhooks string
	// video jobs the worker polls at once
	WorkerConcurrency int

	// S3/Storage
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3PathStyle bool

	// Gemini (script + TTS)
	GeminiAPIKey              string
	GeminiAPIEndpoint         string
	GeminiModelScript         string
	GeminiModelScriptFallback string
	GeminiModelTTS            string
	GeminiTTSVoice            string

	// Video vendors
	KlingAPIKey       string
	KlingBaseURL      string
	JoggAIAPIKey      string
	JoggAIBaseURL     string
	ReplicateAPIToken string
	ReplicateBaseURL  string
	TavusAPIKey       string
	TavusBaseURL      string
	RelayTimeout      time.Duration
	RelayTokenHash    string // bcrypt hash; empty leaves the relay open
	CORSAllowedOrigin string

	// Polling
	PollMaxAttempts int
	PollInterval    time.Duration

	// Webhook
	WebhookURL            string
	WebhookSecret         string
	WebhookMaxRetries     int
	WebhookRetryBaseDelay time.Duration
	WebhookRetryMaxDelay  time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:          getEnv("REDIS_URL", ""),
		JobStatusCacheTTL: getEnvDuration("JOB_STATUS_CACHE_TTL", 24*time.Hour),

		KafkaBrokers:       getEnvList("KAFKA_BROKERS", nil),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "podcaststudio-worker"),
		KafkaTopicVideos:   getEnv("KAFKA_TOPIC_VIDEO_JOBS", "podcaststudio.videojobs.v1"),
		KafkaTopicWebhooks: getEnv("KAFKA_TOPIC_WEBHOOKS", "podcaststudio.webhooks.v1"),
		WorkerConcurrency:  clampMin(getEnvInt("WORKER_CONCURRENCY", 16), 1),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3PublicURL: getEnv("S3_PUBLIC_URL", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", true),

		GeminiAPIKey:              getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint:         getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModelScript:         getEnv("GEMINI_MODEL_SCRIPT", "gemini-2.5-flash"),
		GeminiModelScriptFallback: getEnv("GEMINI_MODEL_SCRIPT_FALLBACK", "gemini-2.5-flash-lite"),
		GeminiModelTTS:            getEnv("GEMINI_MODEL_TTS", "gemini-2.5-flash-preview-tts"),
		GeminiTTSVoice:            getEnv("GEMINI_TTS_VOICE", "Kore"),

		KlingAPIKey:       getEnv("KLING_API_KEY", ""),
		KlingBaseURL:      getEnv("KLING_BASE_URL", "https://api.klingai.com"),
		JoggAIAPIKey:      getEnv("JOGGAI_API_KEY", ""),
		JoggAIBaseURL:     getEnv("JOGGAI_BASE_URL", "https://api.jogg.ai/v1"),
		ReplicateAPIToken: getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		TavusAPIKey:       getEnv("TAVUS_API_KEY", ""),
		TavusBaseURL:      getEnv("TAVUS_BASE_URL", "https://tavusapi.com/v2"),
		RelayTimeout:      getEnvDuration("RELAY_TIMEOUT", 60*time.Second),
		RelayTokenHash:    getEnv("RELAY_TOKEN_HASH", ""),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),

		PollMaxAttempts: clampMin(getEnvInt("POLL_MAX_ATTEMPTS", 120), 1),
		PollInterval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),

		WebhookURL:            getEnv("WEBHOOK_URL", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		WebhookMaxRetries:     getEnvInt("WEBHOOK_MAX_RETRIES", 10),
		WebhookRetryBaseDelay: getEnvDuration("WEBHOOK_RETRY_BASE_DELAY", 30*time.Second),
		WebhookRetryMaxDelay:  getEnvDuration("WEBHOOK_RETRY_MAX_DELAY", 24*time.Hour),
	}
}

// KafkaEnabled reports whether a broker list was configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// StorageEnabled reports whether generated media can be uploaded to S3.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
