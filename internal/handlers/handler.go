package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/database"
	"github.com/snappy-loop/podcaststudio/internal/llm"
	"github.com/snappy-loop/podcaststudio/internal/models"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const maxBodyBytes = 1 << 20

// podcastService is the podcast config API used by the handlers.
type podcastService interface {
	Save(ctx context.Context, req *models.SavePodcastRequest) (*models.PodcastConfig, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PodcastConfig, error)
	List(ctx context.Context, limit int) ([]*models.PodcastConfig, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// pipelineService runs the script and audio stages.
type pipelineService interface {
	GenerateScript(ctx context.Context, req *models.GenerateScriptRequest) (*models.GenerateScriptResponse, error)
	SynthesizeAudio(ctx context.Context, req *models.SynthesizeAudioRequest) (*models.SynthesizeAudioResponse, error)
}

// videoService submits and tracks video jobs.
type videoService interface {
	CreateVideo(ctx context.Context, req *models.CreateVideoRequest) (*models.CreateVideoResponse, error)
	GetVideoStatus(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, error)
	WatchVideo(ctx context.Context, jobID uuid.UUID) (*models.VideoStatusResponse, <-chan *models.VideoStatusResponse, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Handler contains all HTTP handlers
type Handler struct {
	podcasts podcastService
	pipeline pipelineService
	videos   videoService
	checks   map[string]HealthChecker
}

// NewHandler creates a new handler. checks are run by Health.
func NewHandler(podcasts podcastService, pipeline pipelineService, videos videoService, checks map[string]HealthChecker) *Handler {
	return &Handler{
		podcasts: podcasts,
		pipeline: pipeline,
		videos:   videos,
		checks:   checks,
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": results})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// errorStatus maps a service error to an HTTP status
func errorStatus(err error) int {
	var (
		valErr       *vendor.ValidationError
		cfgErr       *vendor.ConfigurationError
		apiErr       *vendor.APIError
		genErr       *vendor.GenerationFailedError
		timeoutErr   *vendor.PollingTimeoutError
		transportErr *vendor.TransportError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.As(err, &genErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr), errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrScriptUnavailable), errors.Is(err, llm.ErrSpeechUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Vendor failures carry
// the vendor and upstream status so clients can tell who rejected the call.
func writeServiceError(w http.ResponseWriter, err error, msg string) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		log.Debug().Err(err).Int("status", status).Msg(msg)
	}

	body := map[string]any{"error": clientMessage(err, status)}
	var apiErr *vendor.APIError
	if errors.As(err, &apiErr) {
		body["vendor"] = apiErr.Vendor
		if apiErr.Code != "" {
			body["code"] = apiErr.Code
		}
		if apiErr.StatusCode != 0 {
			body["vendor_status"] = apiErr.StatusCode
		}
	}
	var transportErr *vendor.TransportError
	if errors.As(err, &transportErr) {
		body["vendor"] = transportErr.Vendor
		if transportErr.StatusCode != 0 {
			body["vendor_status"] = transportErr.StatusCode
		}
	}
	writeJSON(w, status, body)
}

func clientMessage(err error, status int) string {
	switch status {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusNotFound:
		return "not found"
	case http.StatusServiceUnavailable:
		return err.Error()
	case http.StatusInternalServerError:
		var cfgErr *vendor.ConfigurationError
		if errors.As(err, &cfgErr) {
			return cfgErr.Error()
		}
		return "internal error"
	}
	return vendor.UserMessage(err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
