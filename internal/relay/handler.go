package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const maxEnvelopeBytes = 10 << 20

// Handler exposes the relay over HTTP at POST /proxy/{vendor}.
type Handler struct {
	relay         *Relay
	allowedOrigin string
}

// NewHandler creates the relay HTTP handler.
func NewHandler(relay *Relay, allowedOrigin string) *Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &Handler{relay: relay, allowedOrigin: allowedOrigin}
}

// ServeHTTP handles one relayed call.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	name, err := vendor.ParseName(mux.Vars(r)["vendor"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	target, ok := h.relay.Target(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "vendor is not relayed"})
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, target.ErrorBody("method not allowed", 0))
		return
	}

	var env Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, target.ErrorBody("invalid request body", 0))
		return
	}

	resp, err := h.relay.Do(r.Context(), name, env)
	if err != nil {
		status, upstream := errorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("vendor", string(name)).Str("endpoint", env.Endpoint).Msg("Relay call failed")
		}
		writeJSON(w, status, target.ErrorBody(relayMessage(err), upstream))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		log.Error().Err(err).Msg("Failed to write relay response")
	}
}

// WithCORS applies the relay's CORS headers before next runs and answers
// preflight requests itself, so rejections written by middleware between the
// two still reach browser callers.
func (h *Handler) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// errorStatus maps a relay error to the HTTP status returned to the caller
// and the upstream vendor status, if any.
func errorStatus(err error) (int, int) {
	var (
		valErr       *vendor.ValidationError
		cfgErr       *vendor.ConfigurationError
		transportErr *vendor.TransportError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, 0
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, 0
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, 0
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, transportErr.StatusCode
	}
	return http.StatusBadGateway, 0
}

func relayMessage(err error) string {
	var transportErr *vendor.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Snippet != "" {
			return "invalid response from vendor: " + transportErr.Snippet
		}
		return "vendor request failed"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
