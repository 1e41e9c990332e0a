package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus(jobID uuid.UUID, status string) *models.VideoStatusResponse {
	return &models.VideoStatusResponse{
		JobID:     jobID,
		Vendor:    vendor.Kling,
		Kind:      vendor.KindTextToVideo,
		TaskID:    "t-1",
		Status:    status,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()
	jobID := uuid.New()

	_, found, err := c.GetVideoStatus(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, found)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := c.Subscribe(subCtx, jobID)
	require.NoError(t, err)

	require.NoError(t, c.SetVideoStatus(ctx, sampleStatus(jobID, models.VideoStatusProcessing), time.Minute))

	got, found, err := c.GetVideoStatus(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.VideoStatusProcessing, got.Status)

	select {
	case update := <-updates:
		assert.Equal(t, jobID, update.JobID)
		assert.Equal(t, models.VideoStatusProcessing, update.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered to subscriber")
	}

	cancel()
	select {
	case _, ok := <-updates:
		for ok {
			_, ok = <-updates
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestMemoryCache_SlowSubscriberGetsFinalStatus(t *testing.T) {
	c := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobID := uuid.New()

	updates, err := c.Subscribe(ctx, jobID)
	require.NoError(t, err)

	for range 20 {
		require.NoError(t, c.SetVideoStatus(ctx, sampleStatus(jobID, models.VideoStatusProcessing), time.Minute))
	}
	require.NoError(t, c.SetVideoStatus(ctx, sampleStatus(jobID, models.VideoStatusSucceeded), time.Minute))

	var last *models.VideoStatusResponse
	for len(updates) > 0 {
		last = <-updates
	}
	require.NotNil(t, last)
	assert.Equal(t, models.VideoStatusSucceeded, last.Status)
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	jobID := uuid.New()
	require.NoError(t, c.SetVideoStatus(context.Background(), sampleStatus(jobID, models.VideoStatusSubmitted), time.Minute))

	now = now.Add(2 * time.Minute)
	_, found, err := c.GetVideoStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	c, err := NewRedisCache(url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Ping(context.Background()))

	exerciseCache(t, c)
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.Equal(t, "video:7c9e6679-7425-40de-944b-e07fc1f90ae7:status", VideoStatusKey(id))
	assert.Equal(t, "video:7c9e6679-7425-40de-944b-e07fc1f90ae7:events", VideoEventsChannel(id))
}
