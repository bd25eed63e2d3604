package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	result, err := mock.Synthesize(ctx, "Path clear.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CharCount != 11 || len(result.Audio) == 0 {
		t.Errorf("unexpected result: chars=%d bytes=%d", result.CharCount, len(result.Audio))
	}
	if err := mock.Health(ctx); err != nil {
		t.Errorf("unexpected health error: %v", err)
	}
	if mock.CallCount("Synthesize") != 1 || len(mock.Calls()) != 2 {
		t.Errorf("unexpected calls: %+v", mock.Calls())
	}
	if got := mock.Texts(); len(got) != 1 || got[0] != "Path clear." {
		t.Errorf("Texts = %v", got)
	}
	mock.Reset()
	if len(mock.Calls()) != 0 {
		t.Error("expected calls to be cleared")
	}
}

func TestWithLatencyHonorsContext(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := mock.Synthesize(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to second provider", func(t *testing.T) {
		bad := tts.WithError(errors.New("primary down"))
		good := tts.NewMock()
		chain, err := tts.NewChain(bad, good)
		if err != nil {
			t.Fatalf("NewChain: %v", err)
		}
		if _, err := chain.Synthesize(ctx, "Stop!"); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if bad.CallCount("Synthesize") != 1 || good.CallCount("Synthesize") != 1 {
			t.Error("expected both providers to be tried once")
		}
	})

	t.Run("all failing", func(t *testing.T) {
		e1, e2 := errors.New("one"), errors.New("two")
		chain, _ := tts.NewChain(tts.WithError(e1), tts.WithError(e2))
		_, err := chain.Synthesize(ctx, "x")

		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("expected ChainError with 2 errors, got %v", err)
		}
		if !errors.Is(err, tts.ErrAllProvidersFailed) || !errors.Is(err, e1) || !errors.Is(err, e2) {
			t.Errorf("ChainError does not match its causes: %v", err)
		}
	})

	t.Run("health passes with one healthy provider", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("down")), tts.NewMock())
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Health: %v", err)
		}
	})

	t.Run("requires a provider", func(t *testing.T) {
		if _, err := tts.NewChain(); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("failing voice is benched then retried", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		bad := tts.WithError(&tts.APIError{StatusCode: 503, Provider: "openai"})
		bad.Label = "openai"
		good := tts.NewMock()
		chain, _ := tts.NewChainWithConfig(tts.ChainConfig{Bench: 10 * time.Second, Clock: clk}, bad, good)

		for i := 0; i < 3; i++ {
			if _, err := chain.Synthesize(ctx, "Stairs ahead."); err != nil {
				t.Fatalf("Synthesize %d: %v", i, err)
			}
		}
		if bad.CallCount("Synthesize") != 1 || good.CallCount("Synthesize") != 3 {
			t.Errorf("calls = %d/%d, benched voice should be skipped", bad.CallCount("Synthesize"), good.CallCount("Synthesize"))
		}
		stats := chain.Stats()
		if stats[0].Name != "openai" || !stats[0].Benched || stats[0].Failed != 1 || stats[1].Served != 3 {
			t.Errorf("stats = %+v", stats)
		}

		clk.Advance(11 * time.Second)
		chain.Synthesize(ctx, "Stairs ahead.")
		if bad.CallCount("Synthesize") != 2 {
			t.Error("voice should be retried after the bench expires")
		}
	})

	t.Run("rejected credentials disable a voice", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		bad := tts.WithError(&tts.APIError{StatusCode: 401, Provider: "elevenlabs"})
		chain, _ := tts.NewChainWithConfig(tts.ChainConfig{Clock: clk}, bad, tts.NewMock())

		chain.Synthesize(ctx, "Path clear.")
		clk.Advance(time.Hour)
		chain.Synthesize(ctx, "Path clear.")
		if bad.CallCount("Synthesize") != 1 || !chain.Stats()[0].Disabled {
			t.Errorf("disabled voice was retried: %+v", chain.Stats())
		}
	})

	t.Run("every voice benched still tries", func(t *testing.T) {
		only := tts.WithError(errors.New("timeout"))
		chain, _ := tts.NewChain(only)
		chain.Synthesize(ctx, "a")
		if _, err := chain.Synthesize(ctx, "b"); !errors.Is(err, tts.ErrAllProvidersFailed) {
			t.Errorf("err = %v", err)
		}
		if only.CallCount("Synthesize") != 2 {
			t.Errorf("calls = %d, want 2", only.CallCount("Synthesize"))
		}
	})

	t.Run("empty text", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.NewMock())
		if _, err := chain.Synthesize(ctx, ""); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestOpenAISynthesize(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write(make([]byte, 48000)) // one second at 24kHz PCM16
	}))
	defer server.Close()

	p, err := tts.NewOpenAI(tts.WithAPIKey("sk-test"), tts.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer p.Close()

	result, err := p.Synthesize(context.Background(), "Caution! Stairs going down close ahead.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", result.Duration)
	}
	if result.Format.Encoding != tts.EncodingPCM24 {
		t.Errorf("Encoding = %s", result.Format.Encoding)
	}
	if payload["response_format"] != "pcm" || payload["voice"] != tts.VoiceNova {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte{0, 0})
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(server.URL), tts.WithRetry(2, time.Millisecond))
	if _, err := p.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(server.URL), tts.WithRetry(3, time.Millisecond))
	_, err := p.Synthesize(context.Background(), "hello")

	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" {
		t.Fatalf("expected unauthorized APIError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != string(tts.EncodingPCM16) {
			t.Errorf("output_format = %s", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "el-key" {
			t.Errorf("missing api key header")
		}
		w.Write(make([]byte, 16000))
	}))
	defer server.Close()

	p, err := tts.NewElevenLabs(
		tts.WithAPIKey("el-key"),
		tts.WithVoice("voice-1"),
		tts.WithOutputFormat(tts.EncodingPCM16),
		tts.WithBaseURL(server.URL),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	result, err := p.Synthesize(context.Background(), "Path clear.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", result.Duration)
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := tts.NewOpenAI(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("OpenAI without key: %v", err)
	}
	if _, err := tts.NewElevenLabs(tts.WithAPIKey("k")); !errors.Is(err, tts.ErrNoVoiceID) {
		t.Errorf("ElevenLabs without voice: %v", err)
	}
	p, _ := tts.NewOpenAI(tts.WithAPIKey("k"))
	if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: %v", err)
	}
}

func TestSampleRateFromEncoding(t *testing.T) {
	tests := []struct {
		enc  tts.Encoding
		want int
	}{
		{tts.EncodingPCM16, 16000},
		{tts.EncodingPCM22, 22050},
		{tts.EncodingPCM24, 24000},
		{tts.EncodingPCM44, 44100},
		{tts.EncodingMP3, 44100},
		{tts.EncodingULaw, 8000},
	}
	for _, tt := range tests {
		if got := tts.SampleRateFromEncoding(tt.enc); got != tt.want {
			t.Errorf("SampleRateFromEncoding(%s) = %d, want %d", tt.enc, got, tt.want)
		}
	}
}
