package llm

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	text    string
	err     error
	calls   int
	lastMsg []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.lastMsg = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.text}}}, nil
}

func TestClampDuration(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 5}, {-3, 5}, {1, 1}, {30, 30}, {60, 60}, {61, 60}, {500, 60},
	}
	for _, tt := range tests {
		if got := ClampDuration(tt.in); got != tt.want {
			t.Errorf("ClampDuration(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScriptPrompt(t *testing.T) {
	p := scriptPrompt(10, "")
	if !strings.Contains(p, "about 1500 words") {
		t.Errorf("prompt missing word target: %q", p)
	}
	if !strings.Contains(p, "short hook") {
		t.Error("default structure missing")
	}

	p = scriptPrompt(2, "1. Intro\n2. Interview")
	if !strings.Contains(p, "about 300 words") || !strings.Contains(p, "2. Interview") {
		t.Errorf("custom structure not used: %q", p)
	}
}

func TestGenerateScript_EmptyTopic(t *testing.T) {
	primary := &fakeModel{text: "hello"}
	c := &Client{scriptPrimary: primary}

	_, err := c.GenerateScript(context.Background(), "   ", 5, "")
	var verr *vendor.ValidationError
	if !errors.As(err, &verr) || verr.Field != "topic" {
		t.Fatalf("expected topic validation error, got %v", err)
	}
	if primary.calls != 0 {
		t.Error("model must not be called for invalid input")
	}
}

func TestGenerateScript_Primary(t *testing.T) {
	primary := &fakeModel{text: "  Welcome to the show.  "}
	fallback := &fakeModel{text: "unused"}
	c := &Client{scriptPrimary: primary, scriptFallback: fallback}

	got, err := c.GenerateScript(context.Background(), "Deep sea creatures", 90, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Welcome to the show." {
		t.Errorf("script = %q", got)
	}
	if fallback.calls != 0 {
		t.Error("fallback should not run")
	}
	if sys := primary.lastMsg[0].Parts[0].(llms.TextContent).Text; !strings.Contains(sys, "60 minutes") {
		t.Errorf("duration not clamped in prompt: %q", sys)
	}
}

func TestGenerateScript_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeModel
	}{
		{"error", &fakeModel{err: errors.New("quota")}},
		{"empty", &fakeModel{text: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeModel{text: "Fallback script"}
			c := &Client{scriptPrimary: tt.primary, scriptFallback: fallback}

			got, err := c.GenerateScript(context.Background(), "Jazz history", 5, "")
			if err != nil {
				t.Fatal(err)
			}
			if got != "Fallback script" || fallback.calls != 1 {
				t.Errorf("script = %q, fallback calls = %d", got, fallback.calls)
			}
		})
	}
}

func TestGenerateScript_Unavailable(t *testing.T) {
	c := &Client{scriptPrimary: &fakeModel{err: errors.New("boom")}}
	_, err := c.GenerateScript(context.Background(), "topic", 5, "")
	if !errors.Is(err, ErrScriptUnavailable) {
		t.Fatalf("expected ErrScriptUnavailable, got %v", err)
	}

	_, err = (&Client{}).GenerateScript(context.Background(), "topic", 5, "")
	if !errors.Is(err, ErrScriptUnavailable) {
		t.Fatalf("expected ErrScriptUnavailable without models, got %v", err)
	}
}

func TestSynthesizeSpeech_Validation(t *testing.T) {
	c := &Client{}
	_, err := c.SynthesizeSpeech(context.Background(), "", "")
	var verr *vendor.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = c.SynthesizeSpeech(context.Background(), "hello", "")
	if !errors.Is(err, ErrSpeechUnavailable) {
		t.Fatalf("expected ErrSpeechUnavailable, got %v", err)
	}
}

func TestParseAudioMimeType(t *testing.T) {
	tests := []struct {
		in   string
		bits int
		rate int
	}{
		{"audio/L16;rate=24000", 16, 24000},
		{"audio/L24; rate=48000", 24, 48000},
		{"audio/L16", 16, 24000},
		{"", 16, 24000},
		{"audio/L16;rate=abc", 16, 24000},
	}
	for _, tt := range tests {
		p := parseAudioMimeType(tt.in)
		if p.bitsPerSample != tt.bits || p.rate != tt.rate {
			t.Errorf("parseAudioMimeType(%q) = %+v", tt.in, p)
		}
	}
}

func TestConvertToWAV(t *testing.T) {
	pcm := make([]byte, 48000) // one second at 24kHz 16-bit mono
	wav := convertToWAV(pcm, "audio/L16;rate=24000")

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Errorf("data size = %d", size)
	}
}

func TestToSpeech(t *testing.T) {
	s := toSpeech(make([]byte, 96000), "audio/L16;rate=24000", "ignored")
	if s.MimeType != "audio/wav" || s.Duration != 2 {
		t.Errorf("pcm speech = %s %.2f", s.MimeType, s.Duration)
	}

	script := strings.Repeat("word ", 150)
	s = toSpeech([]byte("mp3"), "audio/mpeg", script)
	if s.MimeType != "audio/mpeg" || s.Duration != 60 || string(s.Data) != "mp3" {
		t.Errorf("encoded speech = %s %.2f", s.MimeType, s.Duration)
	}
}
