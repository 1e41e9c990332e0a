// Package replicate runs video models hosted on Replicate.
package replicate

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

// Default models per job kind. A model is either "owner/name" (latest
// version) or "owner/name:version".
var defaultModels = map[vendor.Kind]string{
	vendor.KindTextToVideo:  "minimax/video-01",
	vendor.KindImageToVideo: "minimax/video-01",
	vendor.KindLipSync:      "bytedance/latentsync",
}

var aspectRatios = map[string]string{
	"16:9": "16:9",
	"9:16": "9:16",
	"1:1":  "1:1",
}

type relayer interface {
	Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error)
}

type Client struct {
	relay relayer
}

func New(r relayer) *Client {
	return &Client{relay: r}
}

func (c *Client) Name() vendor.Name { return vendor.Replicate }

// Prediction is Replicate's representation of a model run.
type Prediction struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Version string          `json:"version"`
	Status  string          `json:"status"` // starting, processing, succeeded, failed, canceled
	Output  json.RawMessage `json:"output"`
	Error   any             `json:"error"`
	Logs    string          `json:"logs"`
	Detail  string          `json:"detail"` // set on HTTP errors
	Title   string          `json:"title"`
}

// OutputURL returns the first media URL of the output, which Replicate gives
// either as a string or as an array of strings.
func (p *Prediction) OutputURL() string {
	if len(p.Output) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

// ErrorMessage flattens the error field, which may be a string or an object.
func (p *Prediction) ErrorMessage() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// BuildRequest validates a job and returns the create endpoint and body.
func BuildRequest(spec vendor.JobSpec) (string, createRequest, error) {
	model, ok := defaultModels[spec.Kind]
	if !ok {
		return "", createRequest{}, &vendor.ValidationError{Field: "kind", Message: fmt.Sprintf("replicate does not support %q jobs", spec.Kind)}
	}
	p := spec.Payload
	if strings.TrimSpace(p.Model) != "" {
		model = strings.TrimSpace(p.Model)
	}

	input := map[string]any{}
	switch spec.Kind {
	case vendor.KindTextToVideo, vendor.KindImageToVideo:
		prompt := strings.TrimSpace(p.Prompt)
		if prompt == "" {
			return "", createRequest{}, &vendor.ValidationError{Field: "prompt", Message: "prompt is required"}
		}
		input["prompt"] = prompt
		input["prompt_optimizer"] = true
		if spec.Kind == vendor.KindImageToVideo {
			if strings.TrimSpace(p.ImageURL) == "" {
				return "", createRequest{}, &vendor.ValidationError{Field: "image_url", Message: "source image is required"}
			}
			input["first_frame_image"] = p.ImageURL
		}
		if p.AspectRatio != "" {
			r, ok := aspectRatios[p.AspectRatio]
			if !ok {
				return "", createRequest{}, &vendor.ValidationError{Field: "aspect_ratio", Message: fmt.Sprintf("replicate does not support aspect ratio %q", p.AspectRatio)}
			}
			input["aspect_ratio"] = r
		}
		if p.Duration > 0 {
			input["duration"] = p.Duration
		}
	case vendor.KindLipSync:
		if strings.TrimSpace(p.VideoURL) == "" {
			return "", createRequest{}, &vendor.ValidationError{Field: "video_url", Message: "source video is required"}
		}
		if strings.TrimSpace(p.AudioURL) == "" {
			return "", createRequest{}, &vendor.ValidationError{Field: "audio_url", Message: "source audio is required"}
		}
		input["video"] = p.VideoURL
		input["audio"] = p.AudioURL
	}
	for k, v := range p.Extra {
		if _, set := input[k]; !set {
			input[k] = v
		}
	}

	if name, version, pinned := strings.Cut(model, ":"); pinned {
		if name == "" || version == "" {
			return "", createRequest{}, &vendor.ValidationError{Field: "model", Message: "model must be owner/name or owner/name:version"}
		}
		return "/predictions", createRequest{Version: version, Input: input}, nil
	}
	if strings.Count(model, "/") != 1 {
		return "", createRequest{}, &vendor.ValidationError{Field: "model", Message: "model must be owner/name or owner/name:version"}
	}
	return "/models/" + model + "/predictions", createRequest{Input: input}, nil
}

func (c *Client) Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error) {
	endpoint, req, err := BuildRequest(spec)
	if err != nil {
		return vendor.JobHandle{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return vendor.JobHandle{}, fmt.Errorf("failed to marshal replicate request: %w", err)
	}

	pred, err := c.call(ctx, relay.Envelope{Endpoint: endpoint, Method: "POST", Payload: payload})
	if err != nil {
		return vendor.JobHandle{}, err
	}
	if pred.ID == "" {
		return vendor.JobHandle{}, &vendor.APIError{Vendor: vendor.Replicate, Message: "create response has no prediction id"}
	}
	return vendor.JobHandle{
		TaskID:    pred.ID,
		Vendor:    vendor.Replicate,
		Kind:      spec.Kind,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) Status(ctx context.Context, predictionID string) (*Prediction, error) {
	return c.call(ctx, relay.Envelope{Endpoint: "/predictions/" + url.PathEscape(predictionID), Method: "GET"})
}

// Cancel asks Replicate to stop a running prediction.
func (c *Client) Cancel(ctx context.Context, handle vendor.JobHandle) error {
	_, err := c.call(ctx, relay.Envelope{Endpoint: "/predictions/" + url.PathEscape(handle.TaskID) + "/cancel", Method: "POST"})
	return err
}

func (c *Client) Wait(ctx context.Context, predictionID string, opts poller.Options) (*Prediction, error) {
	opts.Vendor = vendor.Replicate
	return poller.Poll(ctx, predictionID, c.Status, Extract, opts)
}

func (c *Client) Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error) {
	pred, err := c.Wait(ctx, handle.TaskID, opts)
	return Normalize(pred, err), err
}

// Extract reads the poll snapshot from a prediction. Replicate has no
// application-level error code; HTTP errors are handled before this point.
func Extract(p *Prediction) (poller.Snapshot, error) {
	snap := poller.Snapshot{Progress: p.Status}
	switch p.Status {
	case "succeeded":
		snap.State = vendor.StateSucceeded
	case "failed":
		snap.State = vendor.StateFailed
		snap.Message = p.ErrorMessage()
	case "canceled":
		snap.State = vendor.StateFailed
		snap.Message = "prediction was canceled"
	case "starting":
		snap.State = vendor.StatePending
	default:
		snap.State = vendor.StateProcessing
	}
	return snap, nil
}

func Normalize(p *Prediction, err error) vendor.NormalizedResult {
	if err != nil {
		return vendor.Failed(vendor.UserMessage(err))
	}
	if p == nil {
		return vendor.Failed("")
	}
	return vendor.Succeeded(p.OutputURL())
}

func (c *Client) call(ctx context.Context, env relay.Envelope) (*Prediction, error) {
	raw, err := c.relay.Do(ctx, vendor.Replicate, env)
	if err != nil {
		return nil, err
	}

	var pred Prediction
	decodeErr := raw.Decode(&pred)
	if err := raw.StatusError(vendor.Replicate, pred.Title, pred.Detail); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, &vendor.TransportError{Vendor: vendor.Replicate, StatusCode: raw.StatusCode, Snippet: relay.Snippet(raw.Body), Err: decodeErr}
	}
	return &pred, nil
}
