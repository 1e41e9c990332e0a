// Package relay forwards credentialed requests to generation vendors so that
// API secrets never reach the browser.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/credentials"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const (
	// maxSnippetBytes bounds how much of a non-JSON body is kept in errors and logs.
	maxSnippetBytes = 200
	// maxResponseBytes bounds how much of a vendor response is read.
	maxResponseBytes = 20 << 20
)

// Envelope is the generic request a caller asks the relay to execute.
type Envelope struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	APIKey   string          `json:"apiKey,omitempty"`
}

// Response is a vendor JSON body passed through unchanged. StatusCode is the
// vendor status when it is >= 400, otherwise 200.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Failed reports whether the vendor answered with an HTTP error status.
func (r *Response) Failed() bool {
	return r.StatusCode >= http.StatusBadRequest
}

// Decode unmarshals the vendor body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode vendor response: %w", err)
	}
	return nil
}

// StatusError converts a vendor HTTP error status into a typed error, or
// returns nil when the call succeeded. 5xx and 429 are transient; other 4xx
// become an APIError carrying the vendor's code and message.
func (r *Response) StatusError(name vendor.Name, code, message string) error {
	if !r.Failed() {
		return nil
	}
	if r.StatusCode >= http.StatusInternalServerError || r.StatusCode == http.StatusTooManyRequests {
		return &vendor.TransportError{Vendor: name, StatusCode: r.StatusCode, Snippet: Snippet(r.Body)}
	}
	if message == "" {
		message = http.StatusText(r.StatusCode)
	}
	return &vendor.APIError{Vendor: name, Code: code, Message: message, StatusCode: r.StatusCode}
}

// Relay executes envelopes against the configured vendor targets.
type Relay struct {
	targets    map[vendor.Name]Target
	resolver   *credentials.Resolver
	httpClient *http.Client
}

// New creates a relay. A nil httpClient gets a 60 second timeout.
func New(resolver *credentials.Resolver, httpClient *http.Client, targets ...Target) *Relay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	byName := make(map[vendor.Name]Target, len(targets))
	for _, t := range targets {
		t.BaseURL = strings.TrimRight(t.BaseURL, "/")
		byName[t.Vendor] = t
	}
	return &Relay{targets: byName, resolver: resolver, httpClient: httpClient}
}

// Target returns the configuration for a vendor.
func (r *Relay) Target(name vendor.Name) (Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

// Do executes one envelope. Vendor-side failures come back either as a
// Response with the vendor's error status or as a typed error; nothing panics.
func (r *Relay) Do(ctx context.Context, name vendor.Name, env Envelope) (*Response, error) {
	target, ok := r.targets[name]
	if !ok {
		return nil, &vendor.ConfigurationError{Vendor: name, Message: "vendor is not configured for relaying"}
	}

	method, err := normalizeMethod(env)
	if err != nil {
		return nil, err
	}
	endpoint, err := normalizeEndpoint(env.Endpoint)
	if err != nil {
		return nil, err
	}

	apiKey, err := r.resolver.Resolve(name, env.APIKey)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method == http.MethodPost {
		payload := env.Payload
		if len(bytes.TrimSpace(payload)) == 0 {
			payload = json.RawMessage("{}")
		}
		body = bytes.NewReader(payload)
	}

	url := target.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &vendor.TransportError{Vendor: name, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	target.Authorize(req.Header, apiKey)

	started := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("vendor", string(name)).
			Str("method", method).
			Str("endpoint", endpoint).
			Msg("Vendor request failed")
		return nil, &vendor.TransportError{Vendor: name, Err: err}
	}
	defer resp.Body.Close()

	// Read as text first: error pages from gateways are often HTML.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &vendor.TransportError{Vendor: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	logEvent := log.Debug()
	if resp.StatusCode >= http.StatusBadRequest {
		logEvent = log.Warn()
	}
	logEvent.
		Str("vendor", string(name)).
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("Vendor request completed")

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 && resp.StatusCode < http.StatusBadRequest {
		// 204 and friends; nothing to parse.
		trimmed = []byte("{}")
	}
	if !json.Valid(trimmed) {
		snippet := Snippet(raw)
		log.Warn().
			Str("vendor", string(name)).
			Int("status_code", resp.StatusCode).
			Str("body_snippet", snippet).
			Msg("Vendor returned a non-JSON body")
		return nil, &vendor.TransportError{Vendor: name, StatusCode: resp.StatusCode, Snippet: snippet}
	}

	status := http.StatusOK
	if resp.StatusCode >= http.StatusBadRequest {
		status = resp.StatusCode
	}
	return &Response{StatusCode: status, Body: json.RawMessage(trimmed)}, nil
}

// Snippet returns at most maxSnippetBytes of a raw body for errors and logs,
// cut on a rune boundary.
func Snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= maxSnippetBytes {
		return s
	}
	cut := maxSnippetBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... [truncated]"
}

func normalizeMethod(env Envelope) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(env.Method))
	if method == "" {
		if len(bytes.TrimSpace(env.Payload)) > 0 {
			return http.MethodPost, nil
		}
		return http.MethodGet, nil
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
		return method, nil
	}
	return "", &vendor.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method %q", env.Method)}
}

// normalizeEndpoint only accepts vendor-relative paths, so a caller cannot
// make the relay send a vendor secret to another host.
func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", &vendor.ValidationError{Field: "endpoint", Message: "endpoint is required"}
	}
	if strings.Contains(endpoint, "://") || strings.HasPrefix(endpoint, "//") {
		return "", &vendor.ValidationError{Field: "endpoint", Message: "endpoint must be a vendor-relative path"}
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint, nil
}
