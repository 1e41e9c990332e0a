package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/kafka"
)

const directSendTimeout = 30 * time.Second

// Publisher hands webhook messages to the dispatcher (e.g. Kafka). May be nil.
type Publisher interface {
	PublishWebhook(ctx context.Context, msg kafka.WebhookMessage) error
}

// Notifier sends pipeline events as best-effort webhooks. Notify never blocks
// and never fails the caller; problems are logged.
type Notifier struct {
	defaultURL string
	publisher  Publisher
	sender     *Sender
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier. With a publisher, messages go through the
// dispatcher (persistent retries); otherwise they are sent directly once.
func NewNotifier(defaultURL string, publisher Publisher, sender *Sender) *Notifier {
	return &Notifier{defaultURL: strings.TrimSpace(defaultURL), publisher: publisher, sender: sender}
}

// Notify posts {event, timestamp, data} to targetURL, or to the default URL
// when targetURL is empty. Without any URL it does nothing.
func (n *Notifier) Notify(ctx context.Context, targetURL, event string, data any) {
	url := strings.TrimSpace(targetURL)
	if url == "" {
		url = n.defaultURL
	}
	if url == "" {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal webhook data")
		return
	}

	msg := kafka.WebhookMessage{
		ID:        uuid.New(),
		Event:     event,
		URL:       url,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	// Detached from the request so a finished request does not cancel delivery.
	bg := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(bg, directSendTimeout)
		defer cancel()

		if n.publisher != nil {
			err := n.publisher.PublishWebhook(ctx, msg)
			if err == nil {
				return
			}
			log.Warn().Err(err).Str("event", event).Msg("Failed to publish webhook, sending directly")
		}

		if n.sender == nil {
			return
		}
		if err := n.sender.Send(ctx, msg.URL, Payload{Event: msg.Event, Timestamp: msg.Timestamp, Data: msg.Data}); err != nil {
			log.Warn().
				Err(err).
				Str("event", event).
				Str("url", url).
				Msg("Webhook notification failed")
			return
		}
		log.Debug().Str("event", event).Str("url", url).Msg("Webhook notification sent")
	}()
}

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
