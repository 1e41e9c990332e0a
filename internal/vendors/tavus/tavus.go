// Package tavus drives Tavus replica videos.
package tavus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const (
	DefaultReplicaID  = "r79e1c033f"
	defaultBackground = "#1a1a2e"
)

type relayer interface {
	Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error)
}

type Client struct {
	relay relayer
}

func New(r relayer) *Client {
	return &Client{relay: r}
}

func (c *Client) Name() vendor.Name { return vendor.Tavus }

// CreateRequest is the body of POST /videos. Exactly one of Script and
// AudioURL drives the replica's speech.
type CreateRequest struct {
	ReplicaID       string `json:"replica_id"`
	Script          string `json:"script,omitempty"`
	AudioURL        string `json:"audio_url,omitempty"`
	VideoName       string `json:"video_name,omitempty"`
	BackgroundURL   string `json:"background_url,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
}

type Video struct {
	VideoID            string `json:"video_id"`
	VideoName          string `json:"video_name"`
	Status             string `json:"status"` // queued, generating, ready, deleted, error
	StatusDetails      string `json:"status_details"`
	GenerationProgress string `json:"generation_progress"`
	DownloadURL        string `json:"download_url"`
	HostedURL          string `json:"hosted_url"`
	StreamURL          string `json:"stream_url"`
	Message            string `json:"message"`
	Error              string `json:"error"`
}

// BuildRequest validates a job and maps it onto Tavus' create payload.
func BuildRequest(spec vendor.JobSpec) (CreateRequest, error) {
	if spec.Kind != vendor.KindAvatarVideo && spec.Kind != vendor.KindLipSync {
		return CreateRequest{}, &vendor.ValidationError{Field: "kind", Message: fmt.Sprintf("tavus does not support %q jobs", spec.Kind)}
	}
	p := spec.Payload

	req := CreateRequest{
		ReplicaID: strings.TrimSpace(p.AvatarID),
		Script:    strings.TrimSpace(p.Script),
		AudioURL:  strings.TrimSpace(p.AudioURL),
	}
	if req.ReplicaID == "" {
		req.ReplicaID = DefaultReplicaID
	}
	if req.AudioURL != "" {
		req.Script = ""
	}
	if req.Script == "" && req.AudioURL == "" {
		return CreateRequest{}, &vendor.ValidationError{Field: "script", Message: "script or audio_url is required"}
	}

	switch bg := strings.TrimSpace(p.Background); {
	case strings.HasPrefix(bg, "http://"), strings.HasPrefix(bg, "https://"):
		req.BackgroundURL = bg
	case strings.HasPrefix(bg, "#"):
		req.BackgroundColor = bg
	case bg == "":
		req.BackgroundColor = defaultBackground
	default:
		return CreateRequest{}, &vendor.ValidationError{Field: "background", Message: "background must be a URL or a #hex color"}
	}

	if name, ok := p.Extra["video_name"].(string); ok {
		req.VideoName = name
	}
	return req, nil
}

func (c *Client) Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error) {
	req, err := BuildRequest(spec)
	if err != nil {
		return vendor.JobHandle{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return vendor.JobHandle{}, fmt.Errorf("failed to marshal tavus request: %w", err)
	}

	video, err := c.call(ctx, relay.Envelope{Endpoint: "/videos", Method: "POST", Payload: payload})
	if err != nil {
		return vendor.JobHandle{}, err
	}
	if video.VideoID == "" {
		return vendor.JobHandle{}, &vendor.APIError{Vendor: vendor.Tavus, Message: "create response has no video_id"}
	}
	return vendor.JobHandle{
		TaskID:    video.VideoID,
		Vendor:    vendor.Tavus,
		Kind:      spec.Kind,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) Status(ctx context.Context, videoID string) (*Video, error) {
	return c.call(ctx, relay.Envelope{Endpoint: "/videos/" + url.PathEscape(videoID), Method: "GET"})
}

func (c *Client) Wait(ctx context.Context, videoID string, opts poller.Options) (*Video, error) {
	opts.Vendor = vendor.Tavus
	return poller.Poll(ctx, videoID, c.Status, Extract, opts)
}

func (c *Client) Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error) {
	video, err := c.Wait(ctx, handle.TaskID, opts)
	return Normalize(video, err), err
}

func Extract(v *Video) (poller.Snapshot, error) {
	snap := poller.Snapshot{Progress: v.Status}
	if v.GenerationProgress != "" {
		snap.Progress = v.Status + " " + v.GenerationProgress
	}
	switch v.Status {
	case "ready":
		snap.State = vendor.StateSucceeded
	case "error", "deleted":
		snap.State = vendor.StateFailed
		snap.Message = v.StatusDetails
	case "queued":
		snap.State = vendor.StatePending
	default:
		snap.State = vendor.StateProcessing
	}
	return snap, nil
}

// Normalize prefers the downloadable file over the hosted player page.
func Normalize(v *Video, err error) vendor.NormalizedResult {
	if err != nil {
		return vendor.Failed(vendor.UserMessage(err))
	}
	if v == nil {
		return vendor.Failed("")
	}
	if v.DownloadURL != "" {
		return vendor.Succeeded(v.DownloadURL)
	}
	return vendor.Succeeded(v.HostedURL)
}

func (c *Client) call(ctx context.Context, env relay.Envelope) (*Video, error) {
	raw, err := c.relay.Do(ctx, vendor.Tavus, env)
	if err != nil {
		return nil, err
	}

	var video Video
	decodeErr := raw.Decode(&video)
	if err := raw.StatusError(vendor.Tavus, "", firstNonEmpty(video.Message, video.Error)); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, &vendor.TransportError{Vendor: vendor.Tavus, StatusCode: raw.StatusCode, Snippet: relay.Snippet(raw.Body), Err: decodeErr}
	}
	return &video, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
