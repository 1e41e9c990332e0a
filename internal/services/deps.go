package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/snappy-loop/podcaststudio/internal/vendors"
)

// VideoJobPublisher hands video jobs to the worker (e.g. Kafka). May be nil
// to run jobs in-process.
type VideoJobPublisher interface {
	PublishVideoJob(ctx context.Context, jobID uuid.UUID, traceID string) error
}

// Notifier emits best-effort pipeline webhooks. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, targetURL, event string, data any)
}

// ScriptGenerator writes podcast scripts.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string, durationMinutes int, structure string) (string, error)
}

// SpeechSynthesizer turns scripts into audio.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, script, voiceID string) (*llm.Speech, error)
}

// MediaStore keeps generated media at URLs vendors can fetch. May be nil.
type MediaStore interface {
	UploadAudio(ctx context.Context, data []byte, mimeType string) (string, error)
	DeleteURL(ctx context.Context, url string) error
}

// podcastRepository is the subset of podcast DB operations used here.
type podcastRepository interface {
	Save(ctx context.Context, p *models.PodcastConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PodcastConfig, error)
	List(ctx context.Context, limit int) ([]*models.PodcastConfig, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetMedia(ctx context.Context, id uuid.UUID, column, value string) error
}

// videoJobRepository is the subset of video job DB operations used here.
type videoJobRepository interface {
	Create(ctx context.Context, job *models.VideoJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress string) error
	Finish(ctx context.Context, job *models.VideoJob) (bool, error)
	ListUnfinished(ctx context.Context, limit int) ([]*models.VideoJob, error)
}

// backendRegistry resolves the video backend for a vendor.
type backendRegistry interface {
	Get(name vendor.Name) (vendors.Backend, error)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, any) {}
