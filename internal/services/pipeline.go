package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/snappy-loop/podcaststudio/internal/webhook"
)

// PipelineService runs the script and audio stages of a podcast
type PipelineService struct {
	podcasts podcastRepository
	scripts  ScriptGenerator
	speech   SpeechSynthesizer
	media    MediaStore
	notifier Notifier
}

// NewPipelineService creates a new PipelineService. media and notifier may be nil.
func NewPipelineService(db *database.DB, client *llm.Client, media MediaStore, notifier Notifier) *PipelineService {
	return newPipelineService(database.NewPodcastRepository(db), client, client, media, notifier)
}

func newPipelineService(podcasts podcastRepository, scripts ScriptGenerator, speech SpeechSynthesizer, media MediaStore, notifier Notifier) *PipelineService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &PipelineService{
		podcasts: podcasts,
		scripts:  scripts,
		speech:   speech,
		media:    media,
		notifier: notifier,
	}
}

// GenerateScript writes a script. With a podcast ID, missing request fields
// come from the saved configuration and the script is stored on it.
func (s *PipelineService) GenerateScript(ctx context.Context, req *models.GenerateScriptRequest) (*models.GenerateScriptResponse, error) {
	topic, duration, structure := req.Topic, req.Duration, req.Structure

	podcast, err := s.loadPodcast(ctx, req.PodcastID)
	if err != nil {
		return nil, err
	}
	if podcast != nil {
		if strings.TrimSpace(topic) == "" {
			topic = podcast.Topic
		}
		if duration <= 0 {
			duration = podcast.DurationMinutes
		}
		if strings.TrimSpace(structure) == "" {
			structure = podcast.Structure
		}
	}
	duration = llm.ClampDuration(duration)

	script, err := s.scripts.GenerateScript(ctx, topic, duration, structure)
	if err != nil {
		return nil, err
	}

	if podcast != nil {
		if err := s.podcasts.SetMedia(ctx, podcast.ID, database.MediaScript, script); err != nil {
			return nil, fmt.Errorf("failed to store script: %w", err)
		}
	}

	s.notifier.Notify(ctx, webhookTarget(podcast), webhook.EventScriptGenerated, map[string]any{
		"podcast_id":       podcastIDString(podcast),
		"duration_minutes": duration,
		"script_length":    len(script),
	})

	return &models.GenerateScriptResponse{Script: script, DurationMinutes: duration}, nil
}

// SynthesizeAudio narrates a script. When media storage is configured the
// audio is uploaded and its URL stored on the podcast.
func (s *PipelineService) SynthesizeAudio(ctx context.Context, req *models.SynthesizeAudioRequest) (*models.SynthesizeAudioResponse, error) {
	script, voice := req.Script, req.VoiceID

	podcast, err := s.loadPodcast(ctx, req.PodcastID)
	if err != nil {
		return nil, err
	}
	if podcast != nil {
		if strings.TrimSpace(script) == "" && podcast.Script != nil {
			script = *podcast.Script
		}
		if strings.TrimSpace(voice) == "" && podcast.VoiceID != nil {
			voice = *podcast.VoiceID
		}
	}

	speech, err := s.speech.SynthesizeSpeech(ctx, script, voice)
	if err != nil {
		return nil, err
	}

	resp := &models.SynthesizeAudioResponse{
		AudioBase64:     base64.StdEncoding.EncodeToString(speech.Data),
		MimeType:        speech.MimeType,
		DurationSeconds: speech.Duration,
	}

	if s.media != nil {
		url, err := s.media.UploadAudio(ctx, speech.Data, speech.MimeType)
		if err != nil {
			// The caller still gets the inline audio.
			log.Warn().Err(err).Msg("Failed to upload synthesized audio")
		} else {
			resp.URL = url
		}
	}

	if podcast != nil && resp.URL != "" {
		if err := s.podcasts.SetMedia(ctx, podcast.ID, database.MediaAudio, resp.URL); err != nil {
			return nil, fmt.Errorf("failed to store audio url: %w", err)
		}
	}

	s.notifier.Notify(ctx, webhookTarget(podcast), webhook.EventAudioGenerated, map[string]any{
		"podcast_id":       podcastIDString(podcast),
		"url":              resp.URL,
		"mime_type":        resp.MimeType,
		"duration_seconds": resp.DurationSeconds,
	})

	return resp, nil
}

func (s *PipelineService) loadPodcast(ctx context.Context, id *uuid.UUID) (*models.PodcastConfig, error) {
	return loadPodcast(ctx, s.podcasts, id)
}

// loadPodcast returns nil without an ID
func loadPodcast(ctx context.Context, repo podcastRepository, id *uuid.UUID) (*models.PodcastConfig, error) {
	if id == nil || *id == uuid.Nil {
		return nil, nil
	}
	p, err := repo.GetByID(ctx, *id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func webhookTarget(p *models.PodcastConfig) string {
	if p == nil || p.WebhookURL == nil {
		return ""
	}
	return *p.WebhookURL
}

func podcastIDString(p *models.PodcastConfig) string {
	if p == nil {
		return ""
	}
	return p.ID.String()
}

// validationf builds a ValidationError for a request field
func validationf(field, format string, args ...any) error {
	return &vendor.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
