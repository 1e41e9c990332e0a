package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultDurationMinutes = 5
	MaxDurationMinutes     = 60

	// WordsPerMinute is the speaking rate scripts are sized for.
	WordsPerMinute = 150
)

// ErrScriptUnavailable is returned when no model produced a script.
var ErrScriptUnavailable = errors.New("script generation unavailable")

// ClampDuration maps a requested duration onto 1..60 minutes; zero or
// negative means the default.
func ClampDuration(minutes int) int {
	switch {
	case minutes <= 0:
		return DefaultDurationMinutes
	case minutes > MaxDurationMinutes:
		return MaxDurationMinutes
	}
	return minutes
}

// scriptPrompt builds the system prompt for a podcast script.
func scriptPrompt(durationMinutes int, structure string) string {
	words := durationMinutes * WordsPerMinute

	var b strings.Builder
	fmt.Fprintf(&b, "Write a podcast script of about %d words (%d minutes at %d words per minute) on the topic provided by the user.\n",
		words, durationMinutes, WordsPerMinute)
	if s := strings.TrimSpace(structure); s != "" {
		fmt.Fprintf(&b, "\nFollow this structure:\n%s\n", s)
	} else {
		b.WriteString("\nOpen with a short hook, cover the main points in order, and close with a brief summary.\n")
	}
	b.WriteString(`
Write it to be read aloud by a single host.
Return ONLY the spoken script, no headings, stage directions or formatting.`)
	return b.String()
}

// GenerateScript writes a podcast script for topic. The primary model is
// tried first; the fallback is used on error or empty output.
func (c *Client) GenerateScript(ctx context.Context, topic string, durationMinutes int, structure string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", &vendor.ValidationError{Field: "topic", Message: "topic is required"}
	}
	durationMinutes = ClampDuration(durationMinutes)

	log.Debug().
		Int("duration_minutes", durationMinutes).
		Int("topic_length", len(topic)).
		Msg("Generating script")

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextContent{Text: scriptPrompt(durationMinutes, structure)}}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextContent{Text: topic}}},
	}
	opts := []llms.CallOption{
		llms.WithTemperature(0.7),
		// about two tokens per word plus headroom
		llms.WithMaxTokens(durationMinutes*WordsPerMinute*2 + 256),
	}

	models := []struct {
		name  string
		model textModel
	}{
		{c.modelScript, c.scriptPrimary},
		{c.modelScriptFallback, c.scriptFallback},
	}

	var lastErr error
	for _, m := range models {
		if m.model == nil {
			continue
		}
		resp, err := m.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Str("model", m.name).Msg("Script generation failed, trying next model")
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			log.Warn().Str("model", m.name).Msg("Model returned no choices")
			continue
		}
		logGeminiResponse("GenerateScript", resp.Choices[0].Content)
		script := strings.TrimSpace(resp.Choices[0].Content)
		if script == "" {
			log.Warn().Str("model", m.name).Msg("Model returned empty script")
			continue
		}
		log.Info().Str("model", m.name).Int("script_length", len(script)).Msg("Script generated")
		return script, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %w", ErrScriptUnavailable, lastErr)
	}
	return "", ErrScriptUnavailable
}
