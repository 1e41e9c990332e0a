package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// PodcastService manages saved podcast configurations
type PodcastService struct {
	repo  podcastRepository
	media MediaStore
}

// NewPodcastService creates a new PodcastService. media may be nil.
func NewPodcastService(db *database.DB, media MediaStore) *PodcastService {
	return newPodcastService(database.NewPodcastRepository(db), media)
}

func newPodcastService(repo podcastRepository, media MediaStore) *PodcastService {
	return &PodcastService{repo: repo, media: media}
}

// Save creates a configuration, or replaces it when req.ID is set
func (s *PodcastService) Save(ctx context.Context, req *models.SavePodcastRequest) (*models.PodcastConfig, error) {
	if err := validateSavePodcast(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.PodcastConfig{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(req.Name),
		Topic:           strings.TrimSpace(req.Topic),
		Structure:       strings.TrimSpace(req.Structure),
		DurationMinutes: llm.ClampDuration(req.DurationMinutes),
		VoiceID:         trimmed(req.VoiceID),
		Script:          req.Script,
		AudioURL:        trimmed(req.AudioURL),
		VideoURL:        trimmed(req.VideoURL),
		WebhookURL:      trimmed(req.WebhookURL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.ID != nil && *req.ID != uuid.Nil {
		p.ID = *req.ID
	}

	if err := s.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save podcast: %w", err)
	}

	log.Info().
		Str("podcast_id", p.ID.String()).
		Str("name", p.Name).
		Int("duration_minutes", p.DurationMinutes).
		Msg("Podcast config saved")

	return p, nil
}

// Get returns one configuration
func (s *PodcastService) Get(ctx context.Context, id uuid.UUID) (*models.PodcastConfig, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns configurations newest first
func (s *PodcastService) List(ctx context.Context, limit int) ([]*models.PodcastConfig, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	podcasts, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts: %w", err)
	}
	if podcasts == nil {
		podcasts = []*models.PodcastConfig{}
	}
	return podcasts, nil
}

// Delete removes a configuration and, best effort, its stored audio
func (s *PodcastService) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if s.media != nil && p.AudioURL != nil {
		if err := s.media.DeleteURL(ctx, *p.AudioURL); err != nil {
			log.Warn().Err(err).Str("podcast_id", id.String()).Msg("Failed to delete stored audio")
		}
	}

	log.Info().Str("podcast_id", id.String()).Msg("Podcast config deleted")
	return nil
}

func validateSavePodcast(req *models.SavePodcastRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return &vendor.ValidationError{Field: "name", Message: "name is required"}
	}
	if req.DurationMinutes > llm.MaxDurationMinutes {
		return &vendor.ValidationError{Field: "duration_minutes", Message: fmt.Sprintf("must be at most %d", llm.MaxDurationMinutes)}
	}
	if req.WebhookURL != nil && strings.TrimSpace(*req.WebhookURL) != "" {
		if err := validateHTTPURL(*req.WebhookURL); err != nil {
			return &vendor.ValidationError{Field: "webhook_url", Message: err.Error()}
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// trimmed returns nil for nil or blank strings
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
