package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

// Video job statuses as stored in video_jobs.status
const (
	VideoStatusSubmitted  = "submitted"
	VideoStatusProcessing = "processing"
	VideoStatusSucceeded  = "succeeded"
	VideoStatusFailed     = "failed"
	VideoStatusTimedOut   = "timed_out"
)

// Webhook delivery statuses
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// PodcastConfig is a saved podcast configuration
type PodcastConfig struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Topic           string    `json:"topic"`
	Structure       string    `json:"structure"` // free-form outline, e.g. "intro, interview, outro"
	DurationMinutes int       `json:"duration_minutes"`
	VoiceID         *string   `json:"voice_id,omitempty"`
	Script          *string   `json:"script,omitempty"`
	AudioURL        *string   `json:"audio_url,omitempty"`
	VideoURL        *string   `json:"video_url,omitempty"`
	WebhookURL      *string   `json:"webhook_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// VideoJob tracks one vendor video generation
type VideoJob struct {
	ID           uuid.UUID       `json:"id"`
	PodcastID    *uuid.UUID      `json:"podcast_id,omitempty"`
	Vendor       vendor.Name     `json:"vendor"`
	Kind         vendor.Kind     `json:"kind"`
	TaskID       string          `json:"task_id"`
	Status       string          `json:"status"` // submitted, processing, succeeded, failed, timed_out
	Progress     *string         `json:"progress,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ResultURL    *string         `json:"result_url,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the job will not change any more
func (j *VideoJob) Terminal() bool {
	switch j.Status {
	case VideoStatusSucceeded, VideoStatusFailed, VideoStatusTimedOut:
		return true
	}
	return false
}

// Handle returns the vendor handle the job is polled with
func (j *VideoJob) Handle() vendor.JobHandle {
	return vendor.JobHandle{TaskID: j.TaskID, Vendor: j.Vendor, Kind: j.Kind, CreatedAt: j.CreatedAt}
}

// Result returns the normalized outcome of a terminal job
func (j *VideoJob) Result() vendor.NormalizedResult {
	switch j.Status {
	case VideoStatusSucceeded:
		if j.ResultURL != nil {
			return vendor.Succeeded(*j.ResultURL)
		}
	case VideoStatusTimedOut:
		return vendor.Failed(vendor.TimeoutMessage)
	}
	if j.ErrorMessage != nil {
		return vendor.Failed(*j.ErrorMessage)
	}
	return vendor.Failed("")
}

// WebhookDelivery represents a webhook delivery attempt
type WebhookDelivery struct {
	ID            uuid.UUID       `json:"id"`
	Event         string          `json:"event"`
	URL           string          `json:"url"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"` // pending, sent, failed
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SavePodcastRequest creates or updates a podcast configuration
type SavePodcastRequest struct {
	ID              *uuid.UUID `json:"id,omitempty"`
	Name            string     `json:"name"`
	Topic           string     `json:"topic"`
	Structure       string     `json:"structure"`
	DurationMinutes int        `json:"duration_minutes"`
	VoiceID         *string    `json:"voice_id,omitempty"`
	Script          *string    `json:"script,omitempty"`
	AudioURL        *string    `json:"audio_url,omitempty"`
	VideoURL        *string    `json:"video_url,omitempty"`
	WebhookURL      *string    `json:"webhook_url,omitempty"`
}

// GenerateScriptRequest represents POST /v1/scripts
type GenerateScriptRequest struct {
	Topic     string     `json:"topic"`
	Duration  int        `json:"duration"` // minutes
	Structure string     `json:"structure,omitempty"`
	PodcastID *uuid.UUID `json:"podcast_id,omitempty"`
}

type GenerateScriptResponse struct {
	Script          string `json:"script"`
	DurationMinutes int    `json:"duration_minutes"`
}

// SynthesizeAudioRequest represents POST /v1/audio
type SynthesizeAudioRequest struct {
	Script    string     `json:"script"`
	VoiceID   string     `json:"voice_id,omitempty"`
	PodcastID *uuid.UUID `json:"podcast_id,omitempty"`
}

type SynthesizeAudioResponse struct {
	AudioBase64     string  `json:"audio_base64"`
	MimeType        string  `json:"mime_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	URL             string  `json:"url,omitempty"`
}

// CreateVideoRequest represents POST /v1/videos
type CreateVideoRequest struct {
	Vendor    string         `json:"vendor"`
	Kind      string         `json:"kind"`
	Payload   vendor.Payload `json:"payload"`
	PodcastID *uuid.UUID     `json:"podcast_id,omitempty"`
}

type CreateVideoResponse struct {
	JobID  uuid.UUID   `json:"job_id"`
	TaskID string      `json:"task_id"`
	Vendor vendor.Name `json:"vendor"`
	Status string      `json:"status"`
}

// VideoStatusResponse is the latest view of a video job
type VideoStatusResponse struct {
	JobID     uuid.UUID                `json:"job_id"`
	Vendor    vendor.Name              `json:"vendor"`
	Kind      vendor.Kind              `json:"kind"`
	TaskID    string                   `json:"task_id"`
	Status    string                   `json:"status"`
	Progress  string                   `json:"progress,omitempty"`
	Result    *vendor.NormalizedResult `json:"result,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// StatusResponse builds the API view of a job
func (j *VideoJob) StatusResponse() *VideoStatusResponse {
	resp := &VideoStatusResponse{
		JobID:     j.ID,
		Vendor:    j.Vendor,
		Kind:      j.Kind,
		TaskID:    j.TaskID,
		Status:    j.Status,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Progress != nil {
		resp.Progress = *j.Progress
	}
	if j.Terminal() {
		res := j.Result()
		resp.Result = &res
	}
	return resp
}
