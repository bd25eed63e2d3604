// Package tts provides server-side speech synthesis for spoken alerts.
//
// Providers turn a phrase into an audio buffer that an audio sink (a
// connected device, a local speaker) can play. Chain them so a failing
// primary voice falls back to a second one:
//
//	primary, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	backup, _ := tts.NewElevenLabs(tts.WithAPIKey(key), tts.WithVoice(voiceID))
//	chain, _ := tts.NewChain(primary, backup)
//
//	result, _ := chain.Synthesize(ctx, "Caution! Stairs going down close ahead.")
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio is the raw audio data, encoded as Format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated audio playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// MIME returns the content type for the encoding.
func (f AudioFormat) MIME() string {
	switch f.Encoding {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingOpus:
		return "audio/ogg"
	case EncodingULaw:
		return "audio/basic"
	default:
		return "audio/pcm"
	}
}

// Encoding represents audio encoding types.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000" // 16kHz mono PCM16
	EncodingPCM22 Encoding = "pcm_22050" // 22.05kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000" // 24kHz mono PCM16
	EncodingPCM44 Encoding = "pcm_44100" // 44.1kHz mono PCM16

	EncodingMP3  Encoding = "mp3_44100_128" // MP3 128kbps
	EncodingOpus Encoding = "opus"
	EncodingULaw Encoding = "ulaw_8000" // μ-law 8kHz
)

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 24000
	}
}

// IsPCM reports whether enc is raw 16-bit PCM.
func IsPCM(enc Encoding) bool {
	switch enc {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// PCMDuration estimates playback time of mono PCM16 audio.
func PCMDuration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
