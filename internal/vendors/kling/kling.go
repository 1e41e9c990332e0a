// Package kling drives Kling text-to-video, image-to-video and lip-sync tasks.
package kling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

// Task types select the endpoint family for create and status calls.
const (
	TaskText2Video  = "text2video"
	TaskImage2Video = "image2video"
	TaskLipSync     = "lip-sync"
)

const (
	defaultModel       = "kling-v1"
	defaultMode        = "std"
	defaultDuration    = 5
	defaultCFGScale    = 0.5
	defaultAspectRatio = "16:9"
)

var aspectRatios = map[string]string{
	"16:9":      "16:9",
	"landscape": "16:9",
	"9:16":      "9:16",
	"portrait":  "9:16",
	"1:1":       "1:1",
	"square":    "1:1",
}

type relayer interface {
	Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error)
}

// Client submits and polls Kling tasks through the relay.
type Client struct {
	relay relayer
}

// New creates a Kling client.
func New(r relayer) *Client {
	return &Client{relay: r}
}

// Name returns the vendor name.
func (c *Client) Name() vendor.Name { return vendor.Kling }

// TaskResponse is the envelope of every Kling answer.
type TaskResponse struct {
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Data      TaskData `json:"data"`
}

type TaskData struct {
	TaskID        string     `json:"task_id"`
	TaskStatus    string     `json:"task_status"` // submitted, processing, succeed, failed
	TaskStatusMsg string     `json:"task_status_msg"`
	CreatedAt     int64      `json:"created_at"`
	UpdatedAt     int64      `json:"updated_at"`
	TaskResult    TaskResult `json:"task_result"`
}

type TaskResult struct {
	Videos []Video `json:"videos"`
}

type Video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

type text2VideoRequest struct {
	ModelName      string  `json:"model_name"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CFGScale       float64 `json:"cfg_scale"`
	Mode           string  `json:"mode"`
	AspectRatio    string  `json:"aspect_ratio"`
	Duration       string  `json:"duration"`
}

type image2VideoRequest struct {
	ModelName      string  `json:"model_name"`
	Image          string  `json:"image"`
	Prompt         string  `json:"prompt,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CFGScale       float64 `json:"cfg_scale"`
	Mode           string  `json:"mode"`
	Duration       string  `json:"duration"`
}

type lipSyncRequest struct {
	Input lipSyncInput `json:"input"`
}

type lipSyncInput struct {
	VideoURL  string `json:"video_url"`
	Mode      string `json:"mode"` // audio2video or text2video
	AudioType string `json:"audio_type,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	Text      string `json:"text,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
}

// TaskType maps a job kind to its Kling task type.
func TaskType(kind vendor.Kind) (string, error) {
	switch kind {
	case vendor.KindTextToVideo:
		return TaskText2Video, nil
	case vendor.KindImageToVideo:
		return TaskImage2Video, nil
	case vendor.KindLipSync:
		return TaskLipSync, nil
	}
	return "", &vendor.ValidationError{Field: "kind", Message: fmt.Sprintf("kling does not support %q jobs", kind)}
}

// BuildRequest validates a job and returns the create endpoint and body.
func BuildRequest(spec vendor.JobSpec) (string, any, error) {
	taskType, err := TaskType(spec.Kind)
	if err != nil {
		return "", nil, err
	}
	p := spec.Payload
	model := firstNonEmpty(p.Model, defaultModel)

	switch taskType {
	case TaskText2Video:
		prompt := strings.TrimSpace(firstNonEmpty(p.Prompt, p.Script))
		if prompt == "" {
			return "", nil, &vendor.ValidationError{Field: "prompt", Message: "prompt is required"}
		}
		ratio, err := aspectRatio(p.AspectRatio)
		if err != nil {
			return "", nil, err
		}
		duration, err := clipDuration(p.Duration)
		if err != nil {
			return "", nil, err
		}
		return "/v1/videos/" + TaskText2Video, text2VideoRequest{
			ModelName:      model,
			Prompt:         prompt,
			NegativePrompt: p.NegativePrompt,
			CFGScale:       defaultCFGScale,
			Mode:           defaultMode,
			AspectRatio:    ratio,
			Duration:       duration,
		}, nil

	case TaskImage2Video:
		if strings.TrimSpace(p.ImageURL) == "" {
			return "", nil, &vendor.ValidationError{Field: "image_url", Message: "source image is required"}
		}
		duration, err := clipDuration(p.Duration)
		if err != nil {
			return "", nil, err
		}
		return "/v1/videos/" + TaskImage2Video, image2VideoRequest{
			ModelName:      model,
			Image:          p.ImageURL,
			Prompt:         p.Prompt,
			NegativePrompt: p.NegativePrompt,
			CFGScale:       defaultCFGScale,
			Mode:           defaultMode,
			Duration:       duration,
		}, nil

	default:
		if strings.TrimSpace(p.VideoURL) == "" {
			return "", nil, &vendor.ValidationError{Field: "video_url", Message: "source video is required"}
		}
		input := lipSyncInput{VideoURL: p.VideoURL}
		switch {
		case strings.TrimSpace(p.AudioURL) != "":
			input.Mode = "audio2video"
			input.AudioType = "url"
			input.AudioURL = p.AudioURL
		case strings.TrimSpace(p.Script) != "":
			input.Mode = "text2video"
			input.Text = p.Script
			input.VoiceID = p.VoiceID
		default:
			return "", nil, &vendor.ValidationError{Field: "audio_url", Message: "audio_url or script is required"}
		}
		return "/v1/videos/" + TaskLipSync, lipSyncRequest{Input: input}, nil
	}
}

// Submit creates a Kling task for the job.
func (c *Client) Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error) {
	endpoint, body, err := BuildRequest(spec)
	if err != nil {
		return vendor.JobHandle{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return vendor.JobHandle{}, fmt.Errorf("failed to marshal kling request: %w", err)
	}

	resp, err := c.call(ctx, relay.Envelope{Endpoint: endpoint, Method: "POST", Payload: payload})
	if err != nil {
		return vendor.JobHandle{}, err
	}
	if resp.Data.TaskID == "" {
		return vendor.JobHandle{}, &vendor.APIError{Vendor: vendor.Kling, Message: "create response has no task_id"}
	}
	return vendor.JobHandle{
		TaskID:    resp.Data.TaskID,
		Vendor:    vendor.Kling,
		Kind:      spec.Kind,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID, taskType string) (*TaskResponse, error) {
	switch taskType {
	case TaskText2Video, TaskImage2Video, TaskLipSync:
	default:
		return nil, &vendor.ValidationError{Field: "task_type", Message: fmt.Sprintf("unknown kling task type %q", taskType)}
	}
	return c.call(ctx, relay.Envelope{
		Endpoint: "/v1/videos/" + taskType + "/" + url.PathEscape(taskID),
		Method:   "GET",
	})
}

// WaitForTask polls a task until it finishes and returns the final response.
func (c *Client) WaitForTask(ctx context.Context, taskID, taskType string, onProgress func(poller.Snapshot), opts poller.Options) (*TaskResponse, error) {
	opts.Vendor = vendor.Kling
	if onProgress != nil {
		opts.OnProgress = onProgress
	}
	status := func(ctx context.Context, id string) (*TaskResponse, error) {
		return c.Status(ctx, id, taskType)
	}
	return poller.Poll(ctx, taskID, status, Extract, opts)
}

// Await waits for a submitted job and normalizes the outcome.
func (c *Client) Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error) {
	taskType, err := TaskType(handle.Kind)
	if err != nil {
		return vendor.Failed(vendor.UserMessage(err)), err
	}
	resp, err := c.WaitForTask(ctx, handle.TaskID, taskType, nil, opts)
	return Normalize(resp, err), err
}

// Extract reads the poll snapshot from a status response.
func Extract(resp *TaskResponse) (poller.Snapshot, error) {
	if resp.Code != 0 {
		return poller.Snapshot{}, &vendor.APIError{Vendor: vendor.Kling, Code: strconv.Itoa(resp.Code), Message: resp.Message}
	}
	snap := poller.Snapshot{Progress: resp.Data.TaskStatus}
	switch resp.Data.TaskStatus {
	case "succeed":
		snap.State = vendor.StateSucceeded
	case "failed":
		snap.State = vendor.StateFailed
		snap.Message = resp.Data.TaskStatusMsg
	case "submitted":
		snap.State = vendor.StatePending
	default:
		snap.State = vendor.StateProcessing
	}
	return snap, nil
}

// Normalize turns the outcome of WaitForTask into a NormalizedResult.
func Normalize(resp *TaskResponse, err error) vendor.NormalizedResult {
	if err != nil {
		return vendor.Failed(vendor.UserMessage(err))
	}
	if resp == nil || len(resp.Data.TaskResult.Videos) == 0 {
		return vendor.Failed("")
	}
	return vendor.Succeeded(resp.Data.TaskResult.Videos[0].URL)
}

func (c *Client) call(ctx context.Context, env relay.Envelope) (*TaskResponse, error) {
	raw, err := c.relay.Do(ctx, vendor.Kling, env)
	if err != nil {
		return nil, err
	}

	var resp TaskResponse
	decodeErr := raw.Decode(&resp)
	if err := raw.StatusError(vendor.Kling, codeString(resp.Code), resp.Message); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, &vendor.TransportError{Vendor: vendor.Kling, StatusCode: raw.StatusCode, Snippet: relay.Snippet(raw.Body), Err: decodeErr}
	}
	if resp.Code != 0 {
		return nil, &vendor.APIError{Vendor: vendor.Kling, Code: strconv.Itoa(resp.Code), Message: resp.Message}
	}
	return &resp, nil
}

func aspectRatio(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return defaultAspectRatio, nil
	}
	if r, ok := aspectRatios[s]; ok {
		return r, nil
	}
	return "", &vendor.ValidationError{Field: "aspect_ratio", Message: fmt.Sprintf("kling does not support aspect ratio %q", s)}
}

func clipDuration(seconds int) (string, error) {
	switch seconds {
	case 0:
		return strconv.Itoa(defaultDuration), nil
	case 5, 10:
		return strconv.Itoa(seconds), nil
	}
	return "", &vendor.ValidationError{Field: "duration", Message: "kling clips are 5 or 10 seconds"}
}

func codeString(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
