package llm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"google.golang.org/genai"
)

// ErrSpeechUnavailable is returned when TTS is not configured.
var ErrSpeechUnavailable = errors.New("speech synthesis unavailable")

var pcmMimePattern = regexp.MustCompile(`audio/L(\d+)`)

// Speech is synthesized narration
type Speech struct {
	Data     []byte
	MimeType string  // "audio/wav" once raw PCM is wrapped
	Duration float64 // seconds
}

// SynthesizeSpeech turns a script into audio using the Gemini TTS model.
// voiceID overrides the configured prebuilt voice.
func (c *Client) SynthesizeSpeech(ctx context.Context, script, voiceID string) (*Speech, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, &vendor.ValidationError{Field: "script", Message: "script is required"}
	}
	if c.speech == nil {
		return nil, ErrSpeechUnavailable
	}

	voice := strings.TrimSpace(voiceID)
	if voice == "" {
		voice = c.ttsVoice
	}

	contents := []*genai.Content{
		genai.NewContentFromText(script, genai.RoleUser),
	}
	temp := float32(1.0)
	cfg := &genai.GenerateContentConfig{
		Temperature:        &temp,
		ResponseModalities: []string{"audio"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
	}

	log.Debug().
		Str("model", c.modelTTS).
		Str("voice", voice).
		Int("script_length", len(script)).
		Msg("Calling genai TTS GenerateContentStream")

	// Collect audio data from streaming response
	var audioBuffer bytes.Buffer
	var mimeType string

	for resp, err := range c.speech.Models.GenerateContentStream(ctx, c.modelTTS, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("TTS stream error: %w", err)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				audioBuffer.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					mimeType = part.InlineData.MIMEType
				}
			}
		}
	}

	if audioBuffer.Len() == 0 {
		return nil, fmt.Errorf("TTS returned no audio data")
	}

	speech := toSpeech(audioBuffer.Bytes(), mimeType, script)

	log.Info().
		Int("audio_size_bytes", len(speech.Data)).
		Str("voice", voice).
		Str("mime_type", speech.MimeType).
		Float64("duration_seconds", speech.Duration).
		Msg("TTS audio generated")

	return speech, nil
}

// toSpeech wraps raw PCM into WAV and works out the duration.
func toSpeech(data []byte, mimeType, script string) *Speech {
	if mimeType == "" || strings.HasPrefix(mimeType, "audio/L") {
		params := parseAudioMimeType(mimeType)
		return &Speech{
			Data:     convertToWAV(data, mimeType),
			MimeType: "audio/wav",
			Duration: float64(len(data)) / float64(params.rate*params.bitsPerSample/8),
		}
	}
	// Encoded formats: estimate from the script at the target speaking rate.
	words := len(strings.Fields(script))
	return &Speech{
		Data:     data,
		MimeType: mimeType,
		Duration: float64(words) / WordsPerMinute * 60,
	}
}

// convertToWAV converts raw mono PCM audio data to WAV format.
func convertToWAV(audioData []byte, mimeType string) []byte {
	params := parseAudioMimeType(mimeType)
	bitsPerSample := params.bitsPerSample
	sampleRate := params.rate
	numChannels := 1
	dataSize := len(audioData)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	header.Grow(44 + dataSize)
	header.WriteString("RIFF")
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	header.WriteString("data")
	binary.Write(header, binary.LittleEndian, uint32(dataSize))
	header.Write(audioData)

	return header.Bytes()
}

type audioParams struct {
	bitsPerSample int
	rate          int
}

// parseAudioMimeType parses bits per sample and rate from e.g. "audio/L16;rate=24000".
func parseAudioMimeType(mimeType string) audioParams {
	params := audioParams{bitsPerSample: 16, rate: 24000}

	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(part[len("rate="):]); err == nil && rate > 0 {
				params.rate = rate
			}
		} else if matches := pcmMimePattern.FindStringSubmatch(part); len(matches) > 1 {
			if bits, err := strconv.Atoi(matches[1]); err == nil && bits > 0 && bits%8 == 0 {
				params.bitsPerSample = bits
			}
		}
	}
	return params
}
