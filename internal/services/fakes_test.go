package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/snappy-loop/podcaststudio/internal/vendors"
)

type fakePodcastRepo struct {
	mu       sync.Mutex
	podcasts map[uuid.UUID]models.PodcastConfig
	deleted  []uuid.UUID
}

func newFakePodcastRepo(ps ...*models.PodcastConfig) *fakePodcastRepo {
	r := &fakePodcastRepo{podcasts: map[uuid.UUID]models.PodcastConfig{}}
	for _, p := range ps {
		r.podcasts[p.ID] = *p
	}
	return r
}

func (r *fakePodcastRepo) Save(ctx context.Context, p *models.PodcastConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.podcasts[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	r.podcasts[p.ID] = *p
	return nil
}

func (r *fakePodcastRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PodcastConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.podcasts[id]
	if !ok {
		return nil, fmt.Errorf("podcast %s: %w", id, database.ErrNotFound)
	}
	return &p, nil
}

func (r *fakePodcastRepo) List(ctx context.Context, limit int) ([]*models.PodcastConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PodcastConfig
	for _, p := range r.podcasts {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakePodcastRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.podcasts[id]; !ok {
		return fmt.Errorf("podcast %s: %w", id, database.ErrNotFound)
	}
	delete(r.podcasts, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakePodcastRepo) SetMedia(ctx context.Context, id uuid.UUID, column, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.podcasts[id]
	if !ok {
		return fmt.Errorf("podcast %s: %w", id, database.ErrNotFound)
	}
	v := value
	switch column {
	case database.MediaScript:
		p.Script = &v
	case database.MediaAudio:
		p.AudioURL = &v
	case database.MediaVideo:
		p.VideoURL = &v
	default:
		return fmt.Errorf("unknown media column %q", column)
	}
	r.podcasts[id] = p
	return nil
}

func (r *fakePodcastRepo) get(id uuid.UUID) models.PodcastConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.podcasts[id]
}

type fakeJobRepo struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]models.VideoJob
	progress []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]models.VideoJob{}}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *models.VideoJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("video job %s: %w", id, database.ErrNotFound)
	}
	return &j, nil
}

func (r *fakeJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if j.FinishedAt == nil {
		j.Status = models.VideoStatusProcessing
		j.Progress = &progress
		r.jobs[id] = j
	}
	r.progress = append(r.progress, progress)
	return nil
}

func (r *fakeJobRepo) Finish(ctx context.Context, job *models.VideoJob) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[job.ID].FinishedAt != nil {
		return false, nil
	}
	r.jobs[job.ID] = *job
	return true, nil
}

func (r *fakeJobRepo) ListUnfinished(ctx context.Context, limit int) ([]*models.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.VideoJob
	for _, j := range r.jobs {
		if !j.Terminal() {
			j := j
			out = append(out, &j)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) get(id uuid.UUID) models.VideoJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// fakeBackend reports the given snapshots through OnProgress, then returns
// result and err from Await. A non-nil hold blocks Await until it is closed.
type fakeBackend struct {
	name      vendor.Name
	submitErr error
	snapshots []poller.Snapshot
	result    vendor.NormalizedResult
	err       error
	hold      chan struct{}

	mu        sync.Mutex
	submitted []vendor.JobSpec
	awaited   int
}

func (b *fakeBackend) Name() vendor.Name { return b.name }

func (b *fakeBackend) Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return vendor.JobHandle{}, b.submitErr
	}
	b.submitted = append(b.submitted, spec)
	return vendor.JobHandle{TaskID: "task-1", Vendor: b.name, Kind: spec.Kind}, nil
}

func (b *fakeBackend) Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error) {
	b.mu.Lock()
	b.awaited++
	b.mu.Unlock()
	for _, s := range b.snapshots {
		if opts.OnProgress != nil {
			opts.OnProgress(s)
		}
	}
	if b.hold != nil {
		select {
		case <-b.hold:
		case <-ctx.Done():
			return vendor.Failed(""), ctx.Err()
		}
	}
	return b.result, b.err
}

func (b *fakeBackend) awaitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.awaited
}

var _ vendors.Backend = (*fakeBackend)(nil)

// cancelingBackend records the jobs it was asked to cancel.
type cancelingBackend struct {
	*fakeBackend
	cancelErr error
	cancelled []vendor.JobHandle
}

func (b *cancelingBackend) Cancel(ctx context.Context, handle vendor.JobHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, handle)
	return b.cancelErr
}

var _ vendors.Canceler = (*cancelingBackend)(nil)

type fakePublisher struct {
	mu   sync.Mutex
	jobs []uuid.UUID
	err  error
}

func (p *fakePublisher) PublishVideoJob(ctx context.Context, jobID uuid.UUID, traceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, jobID)
	return nil
}

type notification struct {
	url   string
	event string
	data  map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, targetURL, event string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, _ := data.(map[string]any)
	n.events = append(n.events, notification{url: targetURL, event: event, data: m})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.events...)
}

type fakeScripts struct {
	script    string
	err       error
	topic     string
	duration  int
	structure string
}

func (f *fakeScripts) GenerateScript(ctx context.Context, topic string, durationMinutes int, structure string) (string, error) {
	f.topic, f.duration, f.structure = topic, durationMinutes, structure
	return f.script, f.err
}

type fakeSpeech struct {
	speech *llm.Speech
	err    error
	script string
	voice  string
}

func (f *fakeSpeech) SynthesizeSpeech(ctx context.Context, script, voiceID string) (*llm.Speech, error) {
	f.script, f.voice = script, voiceID
	return f.speech, f.err
}

type fakeMedia struct {
	url      string
	err      error
	uploaded [][]byte
	deleted  []string
}

func (f *fakeMedia) UploadAudio(ctx context.Context, data []byte, mimeType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploaded = append(f.uploaded, data)
	return f.url, nil
}

func (f *fakeMedia) DeleteURL(ctx context.Context, url string) error {
	f.deleted = append(f.deleted, url)
	return nil
}

func strPtr(s string) *string { return &s }
