// Package joggai drives JoggAI talking-avatar videos.
package joggai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const (
	DefaultAvatarID = 127
	DefaultVoiceID  = "en-US-ChristopherNeural"

	defaultAspectRatio = "landscape"
	defaultScreenStyle = 1
	maxScriptChars     = 5000
)

var aspectRatios = map[string]string{
	"16:9":      "landscape",
	"landscape": "landscape",
	"9:16":      "portrait",
	"portrait":  "portrait",
	"1:1":       "square",
	"square":    "square",
}

type relayer interface {
	Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error)
}

// Client submits and polls JoggAI projects through the relay.
type Client struct {
	relay relayer
}

func New(r relayer) *Client {
	return &Client{relay: r}
}

func (c *Client) Name() vendor.Name { return vendor.JoggAI }

// CreateRequest is the body of POST /create_video_from_avatar.
type CreateRequest struct {
	Script      string `json:"script"`
	AvatarID    int    `json:"avatar_id"`
	AvatarType  int    `json:"avatar_type"`
	VoiceID     string `json:"voice_id"`
	AspectRatio string `json:"aspect_ratio"`
	ScreenStyle int    `json:"screen_style"`
	Caption     bool   `json:"caption"`
	VideoName   string `json:"video_name,omitempty"`
}

type Response struct {
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data Project `json:"data"`
}

type Project struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"` // pending, processing, completed, failed
	VideoURL  string `json:"video_url"`
	CoverURL  string `json:"cover_url"`
	Duration  int    `json:"duration"`
	ErrorMsg  string `json:"error_message"`
}

// BuildRequest validates a job and maps it onto JoggAI's create payload.
func BuildRequest(spec vendor.JobSpec) (CreateRequest, error) {
	if spec.Kind != vendor.KindAvatarVideo {
		return CreateRequest{}, &vendor.ValidationError{Field: "kind", Message: fmt.Sprintf("joggai does not support %q jobs", spec.Kind)}
	}
	p := spec.Payload

	script := strings.TrimSpace(p.Script)
	if script == "" {
		return CreateRequest{}, &vendor.ValidationError{Field: "script", Message: "script is required"}
	}
	if utf8.RuneCountInString(script) > maxScriptChars {
		return CreateRequest{}, &vendor.ValidationError{Field: "script", Message: fmt.Sprintf("script exceeds %d characters", maxScriptChars)}
	}

	avatarID := DefaultAvatarID
	if s := strings.TrimSpace(p.AvatarID); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return CreateRequest{}, &vendor.ValidationError{Field: "avatar_id", Message: "joggai avatar ids are positive numbers"}
		}
		avatarID = id
	}

	ratio := defaultAspectRatio
	if s := strings.ToLower(strings.TrimSpace(p.AspectRatio)); s != "" {
		r, ok := aspectRatios[s]
		if !ok {
			return CreateRequest{}, &vendor.ValidationError{Field: "aspect_ratio", Message: fmt.Sprintf("joggai does not support aspect ratio %q", s)}
		}
		ratio = r
	}

	voice := strings.TrimSpace(p.VoiceID)
	if voice == "" {
		voice = DefaultVoiceID
	}

	name, _ := p.Extra["video_name"].(string)
	return CreateRequest{
		Script:      script,
		AvatarID:    avatarID,
		VoiceID:     voice,
		AspectRatio: ratio,
		ScreenStyle: defaultScreenStyle,
		Caption:     true,
		VideoName:   name,
	}, nil
}

func (c *Client) Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error) {
	req, err := BuildRequest(spec)
	if err != nil {
		return vendor.JobHandle{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return vendor.JobHandle{}, fmt.Errorf("failed to marshal joggai request: %w", err)
	}

	resp, err := c.call(ctx, relay.Envelope{Endpoint: "/create_video_from_avatar", Method: "POST", Payload: payload})
	if err != nil {
		return vendor.JobHandle{}, err
	}
	if resp.Data.ProjectID == "" {
		return vendor.JobHandle{}, &vendor.APIError{Vendor: vendor.JoggAI, Message: "create response has no project_id"}
	}
	return vendor.JobHandle{
		TaskID:    resp.Data.ProjectID,
		Vendor:    vendor.JoggAI,
		Kind:      spec.Kind,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) Status(ctx context.Context, projectID string) (*Response, error) {
	return c.call(ctx, relay.Envelope{
		Endpoint: "/project?project_id=" + url.QueryEscape(projectID),
		Method:   "GET",
	})
}

func (c *Client) Wait(ctx context.Context, projectID string, opts poller.Options) (*Response, error) {
	opts.Vendor = vendor.JoggAI
	return poller.Poll(ctx, projectID, c.Status, Extract, opts)
}

func (c *Client) Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error) {
	resp, err := c.Wait(ctx, handle.TaskID, opts)
	return Normalize(resp, err), err
}

func Extract(resp *Response) (poller.Snapshot, error) {
	if resp.Code != 0 {
		return poller.Snapshot{}, &vendor.APIError{Vendor: vendor.JoggAI, Code: strconv.Itoa(resp.Code), Message: resp.Msg}
	}
	snap := poller.Snapshot{Progress: resp.Data.Status}
	switch strings.ToLower(resp.Data.Status) {
	case "completed", "success":
		snap.State = vendor.StateSucceeded
	case "failed":
		snap.State = vendor.StateFailed
		snap.Message = resp.Data.ErrorMsg
	case "pending", "":
		snap.State = vendor.StatePending
	default:
		snap.State = vendor.StateProcessing
	}
	return snap, nil
}

func Normalize(resp *Response, err error) vendor.NormalizedResult {
	if err != nil {
		return vendor.Failed(vendor.UserMessage(err))
	}
	if resp == nil {
		return vendor.Failed("")
	}
	return vendor.Succeeded(resp.Data.VideoURL)
}

func (c *Client) call(ctx context.Context, env relay.Envelope) (*Response, error) {
	raw, err := c.relay.Do(ctx, vendor.JoggAI, env)
	if err != nil {
		return nil, err
	}

	var resp Response
	decodeErr := raw.Decode(&resp)
	code := ""
	if resp.Code != 0 {
		code = strconv.Itoa(resp.Code)
	}
	if err := raw.StatusError(vendor.JoggAI, code, resp.Msg); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, &vendor.TransportError{Vendor: vendor.JoggAI, StatusCode: raw.StatusCode, Snippet: relay.Snippet(raw.Body), Err: decodeErr}
	}
	if resp.Code != 0 {
		return nil, &vendor.APIError{Vendor: vendor.JoggAI, Code: code, Message: resp.Msg}
	}
	return &resp, nil
}
