package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"POLL_MAX_ATTEMPTS", "POLL_INTERVAL", "KAFKA_BROKERS", "S3_BUCKET", "HTTP_ADDR", "WORKER_CONCURRENCY"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollMaxAttempts != 120 {
		t.Errorf("PollMaxAttempts = %d, want 120", cfg.PollMaxAttempts)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.KafkaEnabled() {
		t.Error("kafka should be disabled without brokers")
	}
	if cfg.WorkerConcurrency != 16 {
		t.Errorf("WorkerConcurrency = %d, want 16", cfg.WorkerConcurrency)
	}
	if cfg.StorageEnabled() {
		t.Error("storage should be disabled without a bucket")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_MAX_ATTEMPTS", "0")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("S3_PATH_STYLE", "false")
	t.Setenv("WEBHOOK_MAX_RETRIES", "not-a-number")
	t.Setenv("WORKER_CONCURRENCY", "-3")

	cfg := Load()

	if cfg.PollMaxAttempts != 1 {
		t.Errorf("PollMaxAttempts = %d, want clamp to 1", cfg.PollMaxAttempts)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.S3PathStyle {
		t.Error("S3PathStyle should be false")
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("WorkerConcurrency = %d, want clamp to 1", cfg.WorkerConcurrency)
	}
	if cfg.WebhookMaxRetries != 10 {
		t.Errorf("WebhookMaxRetries = %d, want default on parse error", cfg.WebhookMaxRetries)
	}
}
