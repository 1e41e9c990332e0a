package relay

import (
	"net/http"

	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

// ErrorStyle selects how relay-side failures are shaped for a vendor, so
// browser code can keep reading errors the way that vendor reports them.
type ErrorStyle int

const (
	// CodeStyle vendors wrap every answer in {code, message}.
	CodeStyle ErrorStyle = iota
	// MessageStyle vendors answer errors with {error}.
	MessageStyle
)

// Target describes how to reach and authenticate against one vendor.
type Target struct {
	Vendor     vendor.Name
	BaseURL    string
	Authorize  func(h http.Header, apiKey string)
	ErrorStyle ErrorStyle
}

// ErrorBody builds the structured body for a relay-side failure.
func (t Target) ErrorBody(message string, upstreamStatus int) map[string]any {
	body := map[string]any{}
	if t.ErrorStyle == CodeStyle {
		body["code"] = -1
		body["message"] = message
	} else {
		body["error"] = message
	}
	if upstreamStatus > 0 {
		body["status"] = upstreamStatus
	}
	return body
}

func bearer(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func apiKeyHeader(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
}

// DefaultTargets returns the vendor targets for the configured base URLs.
func DefaultTargets(cfg *config.Config) []Target {
	return []Target{
		{Vendor: vendor.Kling, BaseURL: cfg.KlingBaseURL, Authorize: bearer, ErrorStyle: CodeStyle},
		{Vendor: vendor.JoggAI, BaseURL: cfg.JoggAIBaseURL, Authorize: apiKeyHeader, ErrorStyle: CodeStyle},
		{Vendor: vendor.Replicate, BaseURL: cfg.ReplicateBaseURL, Authorize: bearer, ErrorStyle: MessageStyle},
		{Vendor: vendor.Tavus, BaseURL: cfg.TavusBaseURL, Authorize: apiKeyHeader, ErrorStyle: MessageStyle},
	}
}
