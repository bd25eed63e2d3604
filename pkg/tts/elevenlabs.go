package tts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelTurboV2_5 is the fastest English model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelFlashV2_5 is the fastest multilingual model.
	ModelFlashV2_5 = "eleven_flash_v2_5"
)

// DefaultElevenLabsVoice is a calm British voice that stays intelligible
// over street noise.
const DefaultElevenLabsVoice = "XB0fDUnXU5powFXDhCwa"

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	httpProvider
	baseURL string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTurboV2_5
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}

	return &ElevenLabs{
		httpProvider: newHTTPProvider(providerElevenLabs, cfg),
		baseURL:      cfg.endpoint(elevenLabsBaseURL),
	}, nil
}

// Synthesize converts text to audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, e.config.VoiceID, e.config.OutputFormat)
	payload := map[string]any{
		"text":     text,
		"model_id": e.config.ModelID,
		"voice_settings": map[string]any{
			"stability":         0.6,
			"similarity_boost":  0.75,
			"use_speaker_boost": true,
		},
	}

	audio, err := e.post(ctx, url, payload, http.Header{"Xi-Api-Key": {e.config.APIKey}})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	format := AudioFormat{
		Encoding:   e.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
		Channels:   1,
	}
	result := &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
	}
	if IsPCM(format.Encoding) {
		result.Format.BitDepth = 16
		result.Duration = PCMDuration(len(audio), format.SampleRate)
	}
	return result, nil
}

// Health checks the API key by fetching the configured voice.
func (e *ElevenLabs) Health(ctx context.Context) error {
	return e.get(ctx, e.baseURL+"/voices/"+e.config.VoiceID, http.Header{"Xi-Api-Key": {e.config.APIKey}})
}

var _ Provider = (*ElevenLabs)(nil)
