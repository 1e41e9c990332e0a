package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func videoMessage(t *testing.T, offset int64, id uuid.UUID) kafka.Message {
	data, err := json.Marshal(VideoJobMessage{JobID: id})
	require.NoError(t, err)
	return kafka.Message{Topic: "video-jobs", Offset: offset, Value: data}
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	reader := &fakeReader{pending: []kafka.Message{videoMessage(t, 1, first), videoMessage(t, 2, second)}}

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	handler := HandlerFunc[VideoJobMessage](func(ctx context.Context, msg *VideoJobMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.JobID]++
		if msg.JobID == first && seen[first] < 3 {
			return errors.New("database unavailable")
		}
		return nil
	})

	c := newConsumer[VideoJobMessage](reader, handler)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, seen[first])
	assert.Equal(t, 1, seen[second])
	assert.Equal(t, []int64{1, 2}, reader.commits())
}

func TestConsumer_SkipsPoisonMessage(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{Topic: "webhooks", Offset: 7, Value: []byte("not json")}}}
	calls := 0
	handler := HandlerFunc[WebhookMessage](func(ctx context.Context, msg *WebhookMessage) error {
		calls++
		return nil
	})

	c := newConsumer[WebhookMessage](reader, handler)
	c.baseDelay = time.Microsecond
	c.maxDelay = time.Microsecond
	c.maxRetriesSkip = 3

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, calls)
}

func TestConsumer_HandlesMessagesConcurrently(t *testing.T) {
	slow, fast := uuid.New(), uuid.New()
	reader := &fakeReader{pending: []kafka.Message{videoMessage(t, 1, slow), videoMessage(t, 2, fast)}}

	fastStarted := make(chan struct{})
	var overlapped atomic.Bool
	handler := HandlerFunc[VideoJobMessage](func(ctx context.Context, msg *VideoJobMessage) error {
		if msg.JobID == fast {
			close(fastStarted)
			return nil
		}
		select {
		case <-fastStarted:
			overlapped.Store(true)
			return nil
		case <-time.After(500 * time.Millisecond):
			return errors.New("second message was not handled while the first was running")
		}
	})

	c := newConsumer[VideoJobMessage](reader, handler)
	c.SetConcurrency(2)
	c.baseDelay = time.Millisecond
	c.maxRetriesSkip = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.True(t, overlapped.Load(), "second message should be handled while the first is in flight")
	assert.ElementsMatch(t, []int64{1, 2}, reader.commits())
}

func TestConsumer_SetConcurrencyFloor(t *testing.T) {
	c := newConsumer[WebhookMessage](&fakeReader{}, HandlerFunc[WebhookMessage](func(context.Context, *WebhookMessage) error { return nil }))
	c.SetConcurrency(0)
	assert.Equal(t, 1, c.concurrency)
}
