package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VideoJobMessage asks the worker to drive a submitted video job to completion
type VideoJobMessage struct {
	JobID   uuid.UUID `json:"job_id"`
	TraceID string    `json:"trace_id,omitempty"`
}

// WebhookMessage is one webhook notification waiting to be delivered
type WebhookMessage struct {
	ID        uuid.UUID       `json:"id"`
	Event     string          `json:"event"` // script.generated, audio.generated, video.submitted, video.completed, video.failed
	URL       string          `json:"url"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (m VideoJobMessage) key() []byte { return []byte(m.JobID.String()) }
func (m WebhookMessage) key() []byte  { return []byte(m.ID.String()) }
