// Package cache keeps the latest status of video jobs and fans out progress
// updates to live listeners.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/models"
)

// Cache is the status cache used by the API, worker and websocket stream.
// Implementations must be safe for concurrent use.
type Cache interface {
	SetVideoStatus(ctx context.Context, status *models.VideoStatusResponse, ttl time.Duration) error
	GetVideoStatus(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, bool, error)
	// Subscribe delivers every status stored for jobID after the call until
	// ctx is done. The channel is closed when the subscription ends.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan *models.VideoStatusResponse, error)
	Ping(ctx context.Context) error
	Close() error
}

func VideoStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("video:%s:status", jobID)
}

func VideoEventsChannel(jobID uuid.UUID) string {
	return fmt.Sprintf("video:%s:events", jobID)
}

// RedisCache implements Cache using go-redis/v9. Status snapshots are plain
// keys with a TTL; updates are also published on a per-job channel.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetVideoStatus(ctx context.Context, status *models.VideoStatusResponse, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, VideoStatusKey(status.JobID), data, ttl)
	pipe.Publish(ctx, VideoEventsChannel(status.JobID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (c *RedisCache) GetVideoStatus(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, bool, error) {
	data, err := c.client.Get(ctx, VideoStatusKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status models.VideoStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, true, nil
}

func (c *RedisCache) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan *models.VideoStatusResponse, error) {
	sub := c.client.Subscribe(ctx, VideoEventsChannel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *models.VideoStatusResponse, 8)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var status models.VideoStatusResponse
				if err := json.Unmarshal([]byte(msg.Payload), &status); err != nil {
					log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Dropping malformed status event")
					continue
				}
				select {
				case out <- &status:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
