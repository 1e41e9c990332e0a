package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Pipeline events
const (
	EventScriptGenerated = "script.generated"
	EventAudioGenerated  = "audio.generated"
	EventVideoSubmitted  = "video.submitted"
	EventVideoCompleted  = "video.completed"
	EventVideoFailed     = "video.failed"
)

const (
	HeaderSignature = "X-Podcast-Signature"
	HeaderTimestamp = "X-Podcast-Timestamp"
	HeaderEvent     = "X-Podcast-Event"

	maxResponseBody = 4 << 10
)

// Payload is the body POSTed to webhook receivers
type Payload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DeliveryError wraps webhook delivery errors with HTTP status code
type DeliveryError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsRetryable determines if an error should be retried
func (e *DeliveryError) IsRetryable() bool {
	// Retry on 5xx server errors
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	// Retry on 429 Too Many Requests
	if e.StatusCode == 429 {
		return true
	}
	// Don't retry on 4xx client errors (except 429)
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// Sender POSTs signed payloads to receivers
type Sender struct {
	httpClient *http.Client
	secret     string
}

// NewSender creates a sender; an empty secret disables signing
func NewSender(httpClient *http.Client, secret string) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{httpClient: httpClient, secret: secret}
}

// Send delivers one payload. Network failures come back as plain errors,
// non-2xx answers as *DeliveryError.
func (s *Sender) Send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PodcastStudio-Webhook/1.0")
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			Body:       string(respBody),
		}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
