package handlers

import (
	"net/http"

	"github.com/snappy-loop/podcaststudio/internal/models"
)

// GenerateScript handles POST /v1/scripts
func (h *Handler) GenerateScript(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateScriptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.pipeline.GenerateScript(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to generate script")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SynthesizeAudio handles POST /v1/audio
func (h *Handler) SynthesizeAudio(w http.ResponseWriter, r *http.Request) {
	var req models.SynthesizeAudioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.pipeline.SynthesizeAudio(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to synthesize audio")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
