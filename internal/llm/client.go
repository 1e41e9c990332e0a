package llm

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"google.golang.org/genai"
)

// maxGeminiResponseLogBytes is the max length of a Gemini response body to log in full.
const maxGeminiResponseLogBytes = 8192

// textModel is the part of llms.Model used for script generation.
type textModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// httpClientForEndpoint returns an http.Client that rewrites request URLs to the given base endpoint.
func httpClientForEndpoint(baseEndpoint string) *http.Client {
	base, err := url.Parse(baseEndpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", baseEndpoint).Msg("Invalid GEMINI_API_ENDPOINT, using default")
		return nil
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &http.Client{
		Transport: &endpointRoundTripper{base: base, next: http.DefaultTransport},
	}
}

// endpointRoundTripper rewrites request URLs to a custom base (scheme, host, path prefix).
type endpointRoundTripper struct {
	base *url.URL
	next http.RoundTripper
}

func (e *endpointRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = e.base.Scheme
	req2.URL.Host = e.base.Host
	req2.URL.Path = path.Join(e.base.Path, strings.TrimPrefix(req.URL.Path, "/"))
	if req.URL.RawQuery != "" {
		req2.URL.RawQuery = req.URL.RawQuery
	}
	return e.next.RoundTrip(req2)
}

// logGeminiResponse logs Gemini response text, truncating if over maxGeminiResponseLogBytes.
func logGeminiResponse(caller, raw string) {
	if len(raw) <= maxGeminiResponseLogBytes {
		log.Debug().Str("caller", caller).Str("gemini_response", raw).Msg("Gemini response")
		return
	}
	log.Debug().
		Str("caller", caller).
		Str("gemini_response", raw[:maxGeminiResponseLogBytes]+"... [truncated]").
		Int("gemini_response_len", len(raw)).
		Msg("Gemini response")
}

// Client wraps the Gemini models used by the podcast pipeline
type Client struct {
	modelScript         string
	modelScriptFallback string
	modelTTS            string
	ttsVoice            string
	scriptPrimary       textModel
	scriptFallback      textModel
	speech              *genai.Client // unified genai SDK for TTS
}

// NewClient creates a new LLM client. Models that fail to initialize are
// left nil and skipped at call time.
func NewClient(cfg *config.Config) *Client {
	// Optional custom HTTP client for langchaingo when using a custom endpoint
	var endpointClient *http.Client
	if cfg.GeminiAPIEndpoint != "" {
		endpointClient = httpClientForEndpoint(cfg.GeminiAPIEndpoint)
	}

	c := &Client{
		modelScript:         cfg.GeminiModelScript,
		modelScriptFallback: cfg.GeminiModelScriptFallback,
		modelTTS:            cfg.GeminiModelTTS,
		ttsVoice:            cfg.GeminiTTSVoice,
	}

	if cfg.GeminiAPIKey != "" {
		c.scriptPrimary = newGoogleAI(cfg.GeminiAPIKey, cfg.GeminiModelScript, endpointClient)
		if cfg.GeminiModelScriptFallback != "" && cfg.GeminiModelScriptFallback != cfg.GeminiModelScript {
			c.scriptFallback = newGoogleAI(cfg.GeminiAPIKey, cfg.GeminiModelScriptFallback, endpointClient)
		}

		genaiCfg := &genai.ClientConfig{APIKey: cfg.GeminiAPIKey, Backend: genai.BackendGeminiAPI}
		if cfg.GeminiAPIEndpoint != "" {
			genaiCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.GeminiAPIEndpoint}
		}
		speech, err := genai.NewClient(context.Background(), genaiCfg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize genai client for TTS")
		} else {
			c.speech = speech
		}
	}

	log.Info().
		Str("model_script", c.modelScript).
		Str("model_script_fallback", c.modelScriptFallback).
		Str("model_tts", c.modelTTS).
		Str("tts_voice", c.ttsVoice).
		Str("api_endpoint", cfg.GeminiAPIEndpoint).
		Bool("script_enabled", c.scriptPrimary != nil).
		Bool("tts_enabled", c.speech != nil).
		Msg("LLM client initialized")

	return c
}

func newGoogleAI(apiKey, model string, httpClient *http.Client) textModel {
	opts := []googleai.Option{googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model)}
	if httpClient != nil {
		opts = append(opts, googleai.WithHTTPClient(httpClient))
	}
	m, err := googleai.New(context.Background(), opts...)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("Failed to initialize Google AI model")
		return nil
	}
	return m
}
