package handlers

import (
	"net/http"
	"strconv"

	"github.com/snappy-loop/podcaststudio/internal/models"
)

// SavePodcast handles POST /v1/podcasts
func (h *Handler) SavePodcast(w http.ResponseWriter, r *http.Request) {
	var req models.SavePodcastRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.podcasts.Save(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to save podcast")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListPodcasts handles GET /v1/podcasts
func (h *Handler) ListPodcasts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	podcasts, err := h.podcasts.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err, "Failed to list podcasts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"podcasts": podcasts})
}

// GetPodcast handles GET /v1/podcasts/{id}
func (h *Handler) GetPodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "podcast")
	if !ok {
		return
	}

	p, err := h.podcasts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to get podcast")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// DeletePodcast handles DELETE /v1/podcasts/{id}
func (h *Handler) DeletePodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "podcast")
	if !ok {
		return
	}

	if err := h.podcasts.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to delete podcast")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
