package joggai

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	bodies []string
	envs   []relay.Envelope
}

func (f *fakeRelay) Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error) {
	i := len(f.envs)
	f.envs = append(f.envs, env)
	if i >= len(f.bodies) {
		i = len(f.bodies) - 1
	}
	return &relay.Response{StatusCode: 200, Body: json.RawMessage(f.bodies[i])}, nil
}

func TestBuildRequest_Defaults(t *testing.T) {
	req, err := BuildRequest(vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: "  Welcome to the show  "}})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the show", req.Script)
	assert.Equal(t, DefaultAvatarID, req.AvatarID)
	assert.Equal(t, DefaultVoiceID, req.VoiceID)
	assert.Equal(t, "landscape", req.AspectRatio)
}

func TestBuildRequest_AspectRatios(t *testing.T) {
	for in, want := range map[string]string{"9:16": "portrait", "1:1": "square", "16:9": "landscape", "Portrait": "portrait"} {
		req, err := BuildRequest(vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: "hi", AspectRatio: in}})
		require.NoError(t, err, in)
		assert.Equal(t, want, req.AspectRatio, in)
	}
}

func TestBuildRequest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		spec  vendor.JobSpec
		field string
	}{
		{"wrong kind", vendor.JobSpec{Kind: vendor.KindTextToVideo, Payload: vendor.Payload{Script: "hi"}}, "kind"},
		{"no script", vendor.JobSpec{Kind: vendor.KindAvatarVideo}, "script"},
		{"long script", vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: strings.Repeat("a", maxScriptChars+1)}}, "script"},
		{"text avatar", vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: "hi", AvatarID: "anna"}}, "avatar_id"},
		{"bad ratio", vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: "hi", AspectRatio: "21:9"}}, "aspect_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRequest(tt.spec)
			var ve *vendor.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestBuildRequest_ScriptLimitCountsCharacters(t *testing.T) {
	// 2 bytes per rune, so well over the limit in bytes
	script := strings.Repeat("é", maxScriptChars)
	req, err := BuildRequest(vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: script}})
	require.NoError(t, err)
	assert.Equal(t, script, req.Script)

	_, err = BuildRequest(vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: script + "é"}})
	var ve *vendor.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "script", ve.Field)
}

func TestSubmitAndAwait(t *testing.T) {
	f := &fakeRelay{bodies: []string{
		`{"code":0,"msg":"Success","data":{"project_id":"p-9"}}`,
		`{"code":0,"msg":"Success","data":{"project_id":"p-9","status":"processing"}}`,
		`{"code":0,"msg":"Success","data":{"project_id":"p-9","status":"completed","video_url":"https://cdn.jogg.ai/p-9.mp4"}}`,
	}}
	c := New(f)

	handle, err := c.Submit(context.Background(), vendor.JobSpec{Kind: vendor.KindAvatarVideo, Payload: vendor.Payload{Script: "hi", AvatarID: "42"}})
	require.NoError(t, err)
	assert.Equal(t, "p-9", handle.TaskID)
	assert.Equal(t, "/create_video_from_avatar", f.envs[0].Endpoint)

	var body CreateRequest
	require.NoError(t, json.Unmarshal(f.envs[0].Payload, &body))
	assert.Equal(t, 42, body.AvatarID)

	res, err := c.Await(context.Background(), handle, poller.Options{MaxAttempts: 5, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, vendor.NormalizedResult{OK: true, MediaURL: "https://cdn.jogg.ai/p-9.mp4"}, res)
	assert.Equal(t, "/project?project_id=p-9", f.envs[1].Endpoint)
	assert.Len(t, f.envs, 3)
}

func TestAwait_Failure(t *testing.T) {
	f := &fakeRelay{bodies: []string{`{"code":0,"data":{"project_id":"p-1","status":"failed","error_message":"avatar unavailable"}}`}}

	res, err := New(f).Await(context.Background(), vendor.JobHandle{TaskID: "p-1"}, poller.Options{MaxAttempts: 5, Interval: time.Millisecond})
	var genErr *vendor.GenerationFailedError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, vendor.NormalizedResult{OK: false, Error: "avatar unavailable"}, res)
}

func TestAwait_APICode(t *testing.T) {
	f := &fakeRelay{bodies: []string{`{"code":10104,"msg":"Insufficient credits"}`}}

	res, err := New(f).Await(context.Background(), vendor.JobHandle{TaskID: "p-1"}, poller.Options{MaxAttempts: 5, Interval: time.Millisecond})
	var apiErr *vendor.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Insufficient credits", res.Error)
	assert.Len(t, f.envs, 1)
}
