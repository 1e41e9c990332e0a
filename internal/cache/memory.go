package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/models"
)

// MemoryCache is an in-process Cache for single-instance deployments without
// Redis. Subscribers only see updates made in the same process.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]memoryEntry
	watchers map[uuid.UUID]map[chan *models.VideoStatusResponse]struct{}
	now      func() time.Time
}

type memoryEntry struct {
	status    models.VideoStatusResponse
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:  make(map[uuid.UUID]memoryEntry),
		watchers: make(map[uuid.UUID]map[chan *models.VideoStatusResponse]struct{}),
		now:      time.Now,
	}
}

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }
func (c *MemoryCache) Close() error                   { return nil }

func (c *MemoryCache) SetVideoStatus(ctx context.Context, status *models.VideoStatusResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{status: *status}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[status.JobID] = entry

	for ch := range c.watchers[status.JobID] {
		update := *status
		deliverLatest(ch, &update)
	}
	return nil
}

// deliverLatest sends update without blocking. A full buffer loses its
// oldest update instead, so a slow listener still ends on the final status.
// Callers hold c.mu, making this the only sender on ch.
func deliverLatest(ch chan *models.VideoStatusResponse, update *models.VideoStatusResponse) {
	for {
		select {
		case ch <- update:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (c *MemoryCache) GetVideoStatus(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[jobID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, jobID)
		return nil, false, nil
	}
	status := entry.status
	return &status, true, nil
}

func (c *MemoryCache) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan *models.VideoStatusResponse, error) {
	ch := make(chan *models.VideoStatusResponse, 8)

	c.mu.Lock()
	if c.watchers[jobID] == nil {
		c.watchers[jobID] = make(map[chan *models.VideoStatusResponse]struct{})
	}
	c.watchers[jobID][ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers[jobID], ch)
		if len(c.watchers[jobID]) == 0 {
			delete(c.watchers, jobID)
		}
		close(ch)
		c.mu.Unlock()
	}()
	return ch, nil
}
