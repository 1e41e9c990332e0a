package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// PodcastRepository handles podcast configuration storage
type PodcastRepository struct {
	db *DB
}

// NewPodcastRepository creates a new PodcastRepository
func NewPodcastRepository(db *DB) *PodcastRepository {
	return &PodcastRepository{db: db}
}

const podcastColumns = `id, name, topic, structure, duration_minutes, voice_id,
	script, audio_url, video_url, webhook_url, created_at, updated_at`

// Save inserts a configuration or replaces the existing one with the same ID
func (r *PodcastRepository) Save(ctx context.Context, p *models.PodcastConfig) error {
	query := `
		INSERT INTO podcast_configs (` + podcastColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			topic = EXCLUDED.topic,
			structure = EXCLUDED.structure,
			duration_minutes = EXCLUDED.duration_minutes,
			voice_id = EXCLUDED.voice_id,
			script = EXCLUDED.script,
			audio_url = EXCLUDED.audio_url,
			video_url = EXCLUDED.video_url,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	return r.db.QueryRowContext(ctx, query,
		p.ID, p.Name, p.Topic, p.Structure, p.DurationMinutes, p.VoiceID,
		p.Script, p.AudioURL, p.VideoURL, p.WebhookURL, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.CreatedAt)
}

// GetByID retrieves a configuration by ID
func (r *PodcastRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PodcastConfig, error) {
	query := `SELECT ` + podcastColumns + ` FROM podcast_configs WHERE id = $1`

	p, err := scanPodcast(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("podcast %s: %w", id, ErrNotFound)
	}
	return p, err
}

// List returns configurations newest first
func (r *PodcastRepository) List(ctx context.Context, limit int) ([]*models.PodcastConfig, error) {
	query := `SELECT ` + podcastColumns + ` FROM podcast_configs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var podcasts []*models.PodcastConfig
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}
		podcasts = append(podcasts, p)
	}

	return podcasts, rows.Err()
}

// Delete removes a configuration
func (r *PodcastRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM podcast_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("podcast %s: %w", id, ErrNotFound)
	}
	return nil
}

// Media columns that pipeline stages fill in
const (
	MediaScript = "script"
	MediaAudio  = "audio_url"
	MediaVideo  = "video_url"
)

// SetMedia stores one generated artifact on a configuration
func (r *PodcastRepository) SetMedia(ctx context.Context, id uuid.UUID, column, value string) error {
	switch column {
	case MediaScript, MediaAudio, MediaVideo:
	default:
		return fmt.Errorf("unknown media column %q", column)
	}

	query := `UPDATE podcast_configs SET ` + column + ` = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, value, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("podcast %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPodcast(row rowScanner) (*models.PodcastConfig, error) {
	p := &models.PodcastConfig{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Topic, &p.Structure, &p.DurationMinutes, &p.VoiceID,
		&p.Script, &p.AudioURL, &p.VideoURL, &p.WebhookURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
