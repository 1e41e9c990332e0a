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

// VideoJobRepository handles video job storage
type VideoJobRepository struct {
	db *DB
}

// NewVideoJobRepository creates a new VideoJobRepository
func NewVideoJobRepository(db *DB) *VideoJobRepository {
	return &VideoJobRepository{db: db}
}

const videoJobColumns = `id, podcast_id, vendor, kind, task_id, status, progress, payload,
	result_url, error_message, created_at, updated_at, finished_at`

// Create inserts a new video job
func (r *VideoJobRepository) Create(ctx context.Context, job *models.VideoJob) error {
	query := `
		INSERT INTO video_jobs (` + videoJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.PodcastID, job.Vendor, job.Kind, job.TaskID, job.Status, job.Progress,
		[]byte(payload), job.ResultURL, job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.FinishedAt,
	)

	return err
}

// GetByID retrieves a video job by ID
func (r *VideoJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	query := `SELECT ` + videoJobColumns + ` FROM video_jobs WHERE id = $1`

	job := &models.VideoJob{}
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.PodcastID, &job.Vendor, &job.Kind, &job.TaskID, &job.Status, &job.Progress,
		&payload, &job.ResultURL, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	job.Payload = payload

	return job, nil
}

// UpdateProgress records an intermediate poll state
func (r *VideoJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress string) error {
	query := `
		UPDATE video_jobs
		SET status = $1, progress = $2, updated_at = $3
		WHERE id = $4 AND finished_at IS NULL
	`

	_, err := r.db.ExecContext(ctx, query, models.VideoStatusProcessing, progress, time.Now(), id)
	return err
}

// Finish records the terminal outcome of a job. It reports false when the
// job was already finished, leaving the stored outcome untouched.
func (r *VideoJobRepository) Finish(ctx context.Context, job *models.VideoJob) (bool, error) {
	query := `
		UPDATE video_jobs
		SET status = $1, result_url = $2, error_message = $3, updated_at = $4, finished_at = $5
		WHERE id = $6 AND finished_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		job.Status, job.ResultURL, job.ErrorMessage, job.UpdatedAt, job.FinishedAt, job.ID,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListUnfinished returns jobs that were submitted but never reached a
// terminal state, oldest first
func (r *VideoJobRepository) ListUnfinished(ctx context.Context, limit int) ([]*models.VideoJob, error) {
	query := `
		SELECT ` + videoJobColumns + `
		FROM video_jobs
		WHERE status IN ('submitted', 'processing')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.VideoJob
	for rows.Next() {
		job := &models.VideoJob{}
		var payload []byte
		err := rows.Scan(
			&job.ID, &job.PodcastID, &job.Vendor, &job.Kind, &job.TaskID, &job.Status, &job.Progress,
			&payload, &job.ResultURL, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		job.Payload = payload
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
