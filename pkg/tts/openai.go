package tts

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"   // Neutral voice
	VoiceEcho    = "echo"    // Male voice
	VoiceNova    = "nova"    // Female voice
	VoiceShimmer = "shimmer" // Soft female voice
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for OpenAI TTS.
type OpenAI struct {
	httpProvider
	baseURL string
}

// NewOpenAI creates a new OpenAI TTS provider. Audio is requested as raw
// 24kHz PCM unless another encoding is configured.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceNova
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerOpenAI, err)
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceNova
	}

	return &OpenAI{
		httpProvider: newHTTPProvider(providerOpenAI, cfg),
		baseURL:      cfg.endpoint(openAIBaseURL),
	}, nil
}

// Synthesize converts text to audio.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()

	format := o.outputFormat()
	payload := map[string]any{
		"model":           o.config.ModelID,
		"voice":           o.config.VoiceID,
		"input":           text,
		"response_format": o.responseFormat(),
	}

	audio, err := o.post(ctx, o.baseURL+"/audio/speech", payload, o.authHeader())
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

	result := &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
	}
	if IsPCM(format.Encoding) {
		result.Duration = PCMDuration(len(audio), format.SampleRate)
	}
	return result, nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	return o.get(ctx, o.baseURL+"/models", o.authHeader())
}

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

func (o *OpenAI) authHeader() http.Header {
	return http.Header{"Authorization": {"Bearer " + o.config.APIKey}}
}

// responseFormat maps the configured encoding onto OpenAI's formats.
// OpenAI PCM output is always 24kHz.
func (o *OpenAI) responseFormat() string {
	switch o.config.OutputFormat {
	case EncodingMP3:
		return "mp3"
	case EncodingOpus:
		return "opus"
	default:
		return "pcm"
	}
}

func (o *OpenAI) outputFormat() AudioFormat {
	switch o.responseFormat() {
	case "mp3":
		return AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1}
	case "opus":
		return AudioFormat{Encoding: EncodingOpus, SampleRate: 48000, Channels: 1}
	default:
		return AudioFormat{Encoding: EncodingPCM24, SampleRate: 24000, Channels: 1, BitDepth: 16}
	}
}

var _ Provider = (*OpenAI)(nil)
