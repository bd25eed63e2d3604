package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/history"
	"github.com/teslashibe/stairguard/pkg/hub"
	"github.com/teslashibe/stairguard/pkg/inference"
	"github.com/teslashibe/stairguard/pkg/narration"
	"github.com/teslashibe/stairguard/pkg/pipeline"
)

type nopSpeaker struct{}

func (nopSpeaker) Speak(context.Context, string, bool) error { return nil }

func (nopSpeaker) Cancel() error { return nil }

func (nopSpeaker) Available() bool { return true }

func newTestPipeline(t *testing.T, provider inference.Provider, rec *history.Recorder) *pipeline.Pipeline {
	t.Helper()
	narrator := narration.New(narration.Categorical, nil)
	mediator := feedback.New(nopSpeaker{}, nil, nil, narrator, feedback.DefaultConfig())
	opts := []pipeline.Option{
		pipeline.WithMediator(mediator),
		pipeline.WithNarrator(narrator),
		pipeline.WithRecorder(rec),
		pipeline.WithSmoothing(false, 0, 0),
		pipeline.WithAutoAnalyze(false),
	}
	if provider != nil {
		opts = append(opts, pipeline.WithEnrich(enrich.New(provider, narrator, enrich.DefaultConfig())))
	}
	p, err := pipeline.New(opts...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func stairs() *detection.Tensor {
	tensor := detection.NewTensor(64)
	tensor.Set(0, 0.5, 0.3, 0.35, 0.4, 0.9)
	return tensor
}

func do(t *testing.T, s *Server, method, target string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestStatusAndHistory(t *testing.T) {
	rec := history.NewRecorder(10, nil, nil)
	p := newTestPipeline(t, nil, rec)
	s := NewServer(p, Config{})

	resp, body := do(t, s, http.MethodGet, "/api/history", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "[]" {
		t.Fatalf("empty history = %d %s", resp.StatusCode, body)
	}

	if _, err := p.ProcessTensor(context.Background(), stairs(), nil); err != nil {
		t.Fatal(err)
	}

	resp, body = do(t, s, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var st pipeline.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Frames != 1 || st.Primary == nil || st.Primary.Category != "ascending" {
		t.Errorf("status = %+v", st)
	}

	_, body = do(t, s, http.MethodGet, "/api/history", nil)
	var entries []history.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != history.KindHazard || entries[0].Category != detection.Ascending {
		t.Errorf("history = %+v", entries)
	}
}

func TestPersistedHistory(t *testing.T) {
	j, err := history.OpenSQLite(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	rec := history.NewRecorder(10, j, nil)
	p := newTestPipeline(t, nil, rec)

	s := NewServer(p, Config{})
	resp, _ := do(t, s, http.MethodGet, "/api/history?persisted=true", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("without journal: %d", resp.StatusCode)
	}

	if _, err := p.ProcessTensor(context.Background(), stairs(), nil); err != nil {
		t.Fatal(err)
	}
	s = NewServer(p, Config{Journal: j})
	resp, body := do(t, s, http.MethodGet, "/api/history?persisted=true&limit=5", nil)
	var entries []history.Entry
	if err := json.Unmarshal(body, &entries); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("persisted = %d %s (%v)", resp.StatusCode, body, err)
	}
	if len(entries) != 1 {
		t.Errorf("persisted entries = %d", len(entries))
	}
}

func TestReplay(t *testing.T) {
	p := newTestPipeline(t, nil, history.NewRecorder(10, nil, nil))
	s := NewServer(p, Config{})

	_, body := do(t, s, http.MethodPost, "/api/replay", nil)
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["text"] != "No recent alerts." {
		t.Errorf("replay = %v", got)
	}
}

func TestAnalyze(t *testing.T) {
	s := NewServer(newTestPipeline(t, nil, nil), Config{})
	resp, _ := do(t, s, http.MethodPost, "/api/analyze", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("without enrichment: %d", resp.StatusCode)
	}

	p := newTestPipeline(t, inference.WithResponse("Twelve steps going up."), nil)
	s = NewServer(p, Config{})

	resp, _ = do(t, s, http.MethodPost, "/api/analyze", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("empty scene, not forced: %d", resp.StatusCode)
	}

	if _, err := p.ProcessTensor(context.Background(), stairs(), image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatal(err)
	}
	resp, body := do(t, s, http.MethodPost, "/api/analyze?wait=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait: %d %s", resp.StatusCode, body)
	}
	var r resultJSON
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatal(err)
	}
	if r.Kind != "success" || r.Text != "Twelve steps going up." {
		t.Errorf("result = %+v", r)
	}

	resp, _ = do(t, s, http.MethodPost, "/api/analyze", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("within cooldown: %d", resp.StatusCode)
	}
	resp, _ = do(t, s, http.MethodPost, "/api/analyze?force=true", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("forced: %d", resp.StatusCode)
	}
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFrameIngestion(t *testing.T) {
	p := newTestPipeline(t, nil, nil)

	s := NewServer(p, Config{})
	resp, _ := do(t, s, http.MethodPost, "/api/frames", jpegBytes(t))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled: %d", resp.StatusCode)
	}

	frames := make(chan image.Image, 1)
	s = NewServer(p, Config{Frames: frames})

	resp, body := do(t, s, http.MethodPost, "/api/frames", jpegBytes(t))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}
	select {
	case img := <-frames:
		if img.Bounds().Dx() != 40 {
			t.Errorf("width = %d", img.Bounds().Dx())
		}
	default:
		t.Fatal("frame not queued")
	}

	frames <- image.NewRGBA(image.Rect(0, 0, 1, 1))
	resp, _ = do(t, s, http.MethodPost, "/api/frames", jpegBytes(t))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("full queue: %d", resp.StatusCode)
	}

	resp, _ = do(t, s, http.MethodPost, "/api/frames", []byte("not an image"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("garbage: %d", resp.StatusCode)
	}
}

func TestReset(t *testing.T) {
	s := NewServer(newTestPipeline(t, nil, nil), Config{})
	resp, _ := do(t, s, http.MethodPost, "/api/reset", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("reset: %d", resp.StatusCode)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := NewServer(newTestPipeline(t, nil, nil), Config{DeviceHub: hub.New("device", nil)})
	for _, path := range []string{"/ws/status", "/ws/device"} {
		resp, _ := do(t, s, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusUpgradeRequired {
			t.Errorf("%s: %d, want 426", path, resp.StatusCode)
		}
	}
}

func TestHubs(t *testing.T) {
	s := NewServer(newTestPipeline(t, nil, nil), Config{DeviceHub: hub.New("device", nil)})
	resp, body := do(t, s, http.MethodGet, "/api/hubs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hubs: %d", resp.StatusCode)
	}
	var stats []hub.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 2 || stats[0].Name != "status" || stats[1].Name != "device" {
		t.Errorf("hubs = %+v", stats)
	}
	if len(stats[1].Clients) != 0 {
		t.Errorf("device clients = %+v", stats[1].Clients)
	}
}

func TestLogLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	s := NewServer(newTestPipeline(t, nil, nil), Config{LogLevel: lv})

	resp, body := do(t, s, http.MethodPut, "/api/log-level?level=debug", nil)
	if resp.StatusCode != http.StatusOK || lv.Level() != slog.LevelDebug {
		t.Fatalf("set debug: %d %s, level %v", resp.StatusCode, body, lv.Level())
	}
	_, body = do(t, s, http.MethodGet, "/api/log-level", nil)
	if string(body) != `{"level":"DEBUG"}` {
		t.Errorf("get = %s", body)
	}
	resp, _ = do(t, s, http.MethodPut, "/api/log-level?level=loud", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad level: %d", resp.StatusCode)
	}

	resp, _ = do(t, NewServer(newTestPipeline(t, nil, nil), Config{}), http.MethodGet, "/api/log-level", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("without a level var: %d", resp.StatusCode)
	}
}

func TestPublishWithoutClients(t *testing.T) {
	s := NewServer(newTestPipeline(t, nil, nil), Config{ShowBoxes: true})
	s.PublishOutcome(pipeline.Outcome{Seq: 1, At: time.Now()})
	s.PublishAnnouncement(history.Entry{Kind: history.KindClear})
	if s.StatusHub().Dropped() != 0 {
		t.Error("publish without clients should not queue")
	}
}
