package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/cache"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/snappy-loop/podcaststudio/internal/vendors"
	"github.com/snappy-loop/podcaststudio/internal/webhook"
)

// resumeBatch bounds how many unfinished jobs are picked up per resume pass
const resumeBatch = 100

// VideoService submits vendor video jobs and drives them to completion
type VideoService struct {
	jobs      videoJobRepository
	podcasts  podcastRepository
	backends  backendRegistry
	cache     cache.Cache
	publisher VideoJobPublisher
	notifier  Notifier
	config    *config.Config

	// runCtx bounds jobs polled in-process when there is no publisher
	runCtx context.Context
	wg     sync.WaitGroup

	// jobs being polled by this process
	activeMu sync.Mutex
	active   map[uuid.UUID]struct{}
}

// NewVideoService creates a new VideoService. publisher and notifier may be
// nil; without a publisher jobs are polled in-process under runCtx.
func NewVideoService(
	runCtx context.Context,
	db *database.DB,
	registry *vendors.Registry,
	statusCache cache.Cache,
	publisher VideoJobPublisher,
	notifier Notifier,
	cfg *config.Config,
) *VideoService {
	return newVideoService(runCtx,
		database.NewVideoJobRepository(db),
		database.NewPodcastRepository(db),
		registry, statusCache, publisher, notifier, cfg)
}

func newVideoService(
	runCtx context.Context,
	jobs videoJobRepository,
	podcasts podcastRepository,
	backends backendRegistry,
	statusCache cache.Cache,
	publisher VideoJobPublisher,
	notifier Notifier,
	cfg *config.Config,
) *VideoService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &VideoService{
		jobs:      jobs,
		podcasts:  podcasts,
		backends:  backends,
		cache:     statusCache,
		publisher: publisher,
		notifier:  notifier,
		config:    cfg,
		runCtx:    runCtx,
		active:    make(map[uuid.UUID]struct{}),
	}
}

// CreateVideo validates and submits a video job, then hands it off for polling
func (s *VideoService) CreateVideo(ctx context.Context, req *models.CreateVideoRequest) (*models.CreateVideoResponse, error) {
	name, err := vendor.ParseName(req.Vendor)
	if err != nil {
		return nil, err
	}
	kind, err := vendor.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if kind == vendor.KindAudio {
		return nil, validationf("kind", "audio is produced by /v1/audio, not a video vendor")
	}
	backend, err := s.backends.Get(name)
	if err != nil {
		return nil, err
	}

	podcast, err := loadPodcast(ctx, s.podcasts, req.PodcastID)
	if err != nil {
		return nil, err
	}

	spec := vendor.JobSpec{Kind: kind, Vendor: name, Payload: withPodcastMedia(req.Payload, podcast)}

	handle, err := backend.Submit(ctx, spec)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &models.VideoJob{
		ID:        uuid.New(),
		Vendor:    name,
		Kind:      kind,
		TaskID:    handle.TaskID,
		Status:    models.VideoStatusSubmitted,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if podcast != nil {
		job.PodcastID = &podcast.ID
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create video job: %w", err)
	}
	s.cacheStatus(ctx, job.StatusResponse())

	log.Info().
		Str("job_id", job.ID.String()).
		Str("vendor", string(name)).
		Str("kind", string(kind)).
		Str("task_id", job.TaskID).
		Msg("Video job submitted")

	s.notifier.Notify(ctx, webhookTarget(podcast), webhook.EventVideoSubmitted, map[string]any{
		"job_id":     job.ID,
		"podcast_id": podcastIDString(podcast),
		"vendor":     name,
		"kind":       kind,
		"task_id":    job.TaskID,
	})

	s.dispatch(ctx, job.ID)

	return &models.CreateVideoResponse{
		JobID:  job.ID,
		TaskID: job.TaskID,
		Vendor: name,
		Status: job.Status,
	}, nil
}

// dispatch publishes the job for the worker, or polls it in-process when no
// publisher is configured or publishing fails
func (s *VideoService) dispatch(ctx context.Context, jobID uuid.UUID) {
	if s.publisher != nil {
		err := s.publisher.PublishVideoJob(ctx, jobID, uuid.New().String())
		if err == nil {
			return
		}
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to publish video job, polling in-process")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.RunVideoJob(s.runCtx, jobID); err != nil {
			log.Error().Err(err).Str("job_id", jobID.String()).Msg("In-process video job failed")
		}
	}()
}

// Wait blocks until in-process jobs return. Cancel runCtx first to stop them.
func (s *VideoService) Wait() {
	s.wg.Wait()
}

// RunVideoJob polls a submitted job to a terminal state and records the
// outcome. Finished jobs, and jobs this process is already polling, are
// skipped. When several runs race on one job only the run that records the
// outcome updates the podcast and sends the webhook. It returns an error only
// when the job could not be loaded or recorded, or ctx ended before an outcome.
func (s *VideoService) RunVideoJob(ctx context.Context, jobID uuid.UUID) error {
	if !s.claim(jobID) {
		log.Debug().Str("job_id", jobID.String()).Msg("Video job already being polled")
		return nil
	}
	defer s.release(jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load video job: %w", err)
	}
	if job.Terminal() {
		log.Debug().Str("job_id", jobID.String()).Str("status", job.Status).Msg("Video job already finished")
		return nil
	}

	logger := log.With().
		Str("job_id", job.ID.String()).
		Str("vendor", string(job.Vendor)).
		Str("task_id", job.TaskID).
		Logger()

	backend, err := s.backends.Get(job.Vendor)
	if err != nil {
		return err
	}

	var lastProgress string
	opts := poller.Options{
		MaxAttempts: s.config.PollMaxAttempts,
		Interval:    s.config.PollInterval,
		Vendor:      job.Vendor,
		OnProgress: func(snap poller.Snapshot) {
			progress := snap.Progress
			if progress == "" {
				progress = string(snap.State)
			}
			if progress == lastProgress && job.Status == models.VideoStatusProcessing {
				return
			}
			lastProgress = progress

			job.Status = models.VideoStatusProcessing
			job.Progress = &progress
			job.UpdatedAt = time.Now().UTC()
			if err := s.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
				logger.Warn().Err(err).Msg("Failed to record video progress")
			}
			s.cacheStatus(ctx, job.StatusResponse())
		},
	}

	logger.Info().Msg("Polling video job")
	result, err := backend.Await(ctx, job.Handle(), opts)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Warn().Err(err).Msg("Video job polling interrupted")
		return err
	}

	now := time.Now().UTC()
	job.UpdatedAt = now
	job.FinishedAt = &now
	switch {
	case result.OK:
		job.Status = models.VideoStatusSucceeded
		job.ResultURL = &result.MediaURL
		job.ErrorMessage = nil
	case poller.IsTimeout(err):
		job.Status = models.VideoStatusTimedOut
		msg := vendor.TimeoutMessage
		job.ErrorMessage = &msg
	default:
		job.Status = models.VideoStatusFailed
		msg := result.Error
		if msg == "" {
			msg = vendor.UserMessage(err)
		}
		job.ErrorMessage = &msg
	}

	// The outcome is recorded even if ctx ended after the last poll.
	recordCtx := context.WithoutCancel(ctx)
	won, ferr := s.jobs.Finish(recordCtx, job)
	if ferr != nil {
		return fmt.Errorf("failed to record video job outcome: %w", ferr)
	}
	if !won {
		logger.Debug().Msg("Video job outcome already recorded elsewhere")
		return nil
	}
	s.cacheStatus(recordCtx, job.StatusResponse())

	if job.Status == models.VideoStatusTimedOut {
		s.cancelVendorJob(recordCtx, backend, job)
	}

	podcast, perr := loadPodcast(recordCtx, s.podcasts, job.PodcastID)
	if perr != nil {
		logger.Warn().Err(perr).Msg("Failed to load podcast for video job")
	}
	if podcast != nil && job.Status == models.VideoStatusSucceeded {
		if err := s.podcasts.SetMedia(recordCtx, podcast.ID, database.MediaVideo, *job.ResultURL); err != nil {
			logger.Warn().Err(err).Msg("Failed to store video url on podcast")
		}
	}

	final := job.Result()
	if job.Status == models.VideoStatusSucceeded {
		logger.Info().Str("media_url", final.MediaURL).Msg("Video job succeeded")
		s.notifier.Notify(recordCtx, webhookTarget(podcast), webhook.EventVideoCompleted, map[string]any{
			"job_id":     job.ID,
			"podcast_id": podcastIDString(podcast),
			"vendor":     job.Vendor,
			"task_id":    job.TaskID,
			"media_url":  final.MediaURL,
		})
		return nil
	}

	logger.Warn().Err(err).Str("status", job.Status).Str("error", final.Error).Msg("Video job did not succeed")
	s.notifier.Notify(recordCtx, webhookTarget(podcast), webhook.EventVideoFailed, map[string]any{
		"job_id":     job.ID,
		"podcast_id": podcastIDString(podcast),
		"vendor":     job.Vendor,
		"task_id":    job.TaskID,
		"status":     job.Status,
		"error":      final.Error,
	})
	return nil
}

func (s *VideoService) claim(jobID uuid.UUID) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[jobID]; busy {
		return false
	}
	s.active[jobID] = struct{}{}
	return true
}

func (s *VideoService) release(jobID uuid.UUID) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, jobID)
}

// cancelVendorJob stops a timed-out job at vendors that support it. Failures
// are logged only.
func (s *VideoService) cancelVendorJob(ctx context.Context, backend vendors.Backend, job *models.VideoJob) {
	canceler, ok := backend.(vendors.Canceler)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := canceler.Cancel(ctx, job.Handle()); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Str("task_id", job.TaskID).Msg("Failed to cancel timed-out vendor job")
		return
	}
	log.Info().Str("job_id", job.ID.String()).Str("task_id", job.TaskID).Msg("Cancelled timed-out vendor job")
}

// GetVideoStatus returns the latest status, from cache when possible
func (s *VideoService) GetVideoStatus(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, error) {
	if status, ok, err := s.cache.GetVideoStatus(ctx, jobID); err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Status cache read failed")
	} else if ok {
		return status, nil
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := job.StatusResponse()
	s.cacheStatus(ctx, status)
	return status, nil
}

// WatchVideo returns the current status and a channel of later updates. The
// channel closes when ctx ends.
func (s *VideoService) WatchVideo(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, <-chan *models.VideoStatusResponse, error) {
	// Subscribe before reading so no update falls in between.
	updates, err := s.cache.Subscribe(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to video status: %w", err)
	}
	current, err := s.GetVideoStatus(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return current, updates, nil
}

// ResumeUnfinished re-dispatches jobs left submitted or processing, e.g.
// after a restart
func (s *VideoService) ResumeUnfinished(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListUnfinished(ctx, resumeBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished video jobs: %w", err)
	}
	for _, job := range jobs {
		s.dispatch(ctx, job.ID)
	}
	if len(jobs) > 0 {
		log.Info().Int("count", len(jobs)).Msg("Resumed unfinished video jobs")
	}
	return len(jobs), nil
}

func (s *VideoService) cacheStatus(ctx context.Context, status *models.VideoStatusResponse) {
	if err := s.cache.SetVideoStatus(ctx, status, s.config.JobStatusCacheTTL); err != nil {
		log.Warn().Err(err).Str("job_id", status.JobID.String()).Msg("Failed to cache video status")
	}
}

// withPodcastMedia fills script and audio from the saved podcast when the
// payload leaves them empty
func withPodcastMedia(p vendor.Payload, podcast *models.PodcastConfig) vendor.Payload {
	if podcast == nil {
		return p
	}
	if strings.TrimSpace(p.Script) == "" && strings.TrimSpace(p.AudioURL) == "" {
		if podcast.AudioURL != nil {
			p.AudioURL = *podcast.AudioURL
		} else if podcast.Script != nil {
			p.Script = *podcast.Script
		}
	}
	if strings.TrimSpace(p.VoiceID) == "" && podcast.VoiceID != nil {
		p.VoiceID = *podcast.VoiceID
	}
	return p
}
