package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/teslashibe/stairguard/internal/config"
	"github.com/teslashibe/stairguard/internal/httpc"
	"github.com/teslashibe/stairguard/internal/log"
	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/device"
	"github.com/teslashibe/stairguard/pkg/emit"
	"github.com/teslashibe/stairguard/pkg/engine"
	"github.com/teslashibe/stairguard/pkg/engine/onnx"
	"github.com/teslashibe/stairguard/pkg/engine/opencv"
	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/history"
	"github.com/teslashibe/stairguard/pkg/hub"
	"github.com/teslashibe/stairguard/pkg/inference"
	"github.com/teslashibe/stairguard/pkg/narration"
	"github.com/teslashibe/stairguard/pkg/pipeline"
	"github.com/teslashibe/stairguard/pkg/tts"
	"github.com/teslashibe/stairguard/pkg/web"
)

const (
	frameQueue    = 4
	demoFrameRate = 10
)

// app owns every long-lived component of the service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	engine   engine.Engine
	devices  *hub.Hub
	bridge   *device.Bridge
	voice    *feedback.TTSSpeaker
	chain    *tts.Chain
	provider inference.Provider
	mqtt     *emit.MQTT
	pipeline *pipeline.Pipeline
	server   *web.Server
	frames   chan image.Image
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: log.Component("stairguard"),
		frames: make(chan image.Image, frameQueue),
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = eng

	a.devices = hub.New("device", log.L())
	a.bridge = device.New(a.devices, nil, log.L())

	speaker, err := a.newSpeaker()
	if err != nil {
		eng.Close()
		return nil, err
	}

	style, _ := narration.ParseDistanceStyle(cfg.Narration.DistanceStyle)
	selector, _ := narration.NewSelector(cfg.Narration.Policy, cfg.Narration.Seed)
	narrator := narration.New(style, selector)

	arbiter := alert.NewArbiter(alert.Config{
		MinHazardInterval: cfg.Alerts.HazardInterval,
		ClearInterval:     cfg.Alerts.ClearInterval,
	})
	mediator := feedback.New(speaker, a.bridge, arbiter, narrator, feedback.Config{
		AudioEnabled:   cfg.Audio,
		HapticEnabled:  cfg.Haptic,
		HapticInterval: cfg.Alerts.HapticInterval,
		Logger:         log.L(),
	})

	client, err := a.newEnrichment(ctx, narrator)
	if err != nil {
		a.logger.Warn("scene analysis disabled", "provider", cfg.Cloud.Provider, "error", err)
	}

	var journal history.Journal
	if cfg.History.Journal != "" {
		j, err := history.OpenSQLite(cfg.History.Journal)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = j
	}
	recorder := history.NewRecorder(cfg.History.Capacity, journal, log.L())

	opts := []pipeline.Option{
		pipeline.WithThreshold(cfg.Threshold),
		pipeline.WithSmoothing(cfg.Smoothing.Enabled, cfg.Smoothing.Window, cfg.Smoothing.Min),
		pipeline.WithAutoAnalyze(cfg.Cloud.AutoAnalyze),
		pipeline.WithEngine(eng),
		pipeline.WithMediator(mediator),
		pipeline.WithNarrator(narrator),
		pipeline.WithRecorder(recorder),
		pipeline.WithOutcomeHandler(a.onOutcome),
		pipeline.WithAnnouncementHandler(a.onAnnouncement),
		pipeline.WithLogger(log.L()),
	}
	if client != nil {
		opts = append(opts, pipeline.WithEnrich(client))
	}
	if cfg.MQTT.Broker != "" {
		a.mqtt = emit.NewMQTT(emit.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Logger:   log.L(),
		})
		opts = append(opts, pipeline.WithEmitter(a.mqtt))
	}

	p, err := pipeline.New(opts...)
	if err != nil {
		eng.Close()
		return nil, err
	}
	a.pipeline = p

	a.server = web.NewServer(p, web.Config{
		Addr:      cfg.Web.Addr,
		Frames:    a.frames,
		DeviceHub: a.devices,
		Journal:   journal,
		ShowBoxes: cfg.ShowBoxes,
		LogLevel:  log.Level(),
		Logger:    log.L(),
	})
	return a, nil
}

// openEngine loads the configured detector. Failures wrap
// engine.ErrModelLoad.
func openEngine(cfg *config.Config) (engine.Engine, error) {
	opts := engine.Options{
		ModelPath:    cfg.Model.Path,
		InputSize:    cfg.Model.InputSize,
		Anchors:      cfg.Model.Anchors,
		Rotation:     cfg.Rotation,
		PixelOutputs: cfg.Model.PixelOutputs,
	}
	switch cfg.Backend() {
	case "demo":
		return engine.NewDemo(nil, 0), nil
	case "onnx":
		return onnx.New(onnx.Config{Options: opts, LibraryPath: cfg.Model.LibraryPath}, log.L())
	default:
		return opencv.New(opts, log.L())
	}
}

// newSpeaker returns the phone's own voice, or server-side synthesis played
// through the phone when a TTS provider is configured.
func (a *app) newSpeaker() (feedback.Speaker, error) {
	s := a.cfg.Speech
	if s.Provider == "device" {
		return a.bridge, nil
	}

	var providers []tts.Provider
	openAI := func() error {
		opts := []tts.Option{tts.WithAPIKey(s.OpenAIKey), tts.WithLogger(log.L())}
		if s.Voice != "" && s.Provider == "openai" {
			opts = append(opts, tts.WithVoice(s.Voice))
		}
		p, err := tts.NewOpenAI(opts...)
		if err != nil {
			return err
		}
		providers = append(providers, p)
		return nil
	}
	elevenLabs := func() error {
		voice := tts.DefaultElevenLabsVoice
		if s.Voice != "" && s.Provider == "elevenlabs" {
			voice = s.Voice
		}
		p, err := tts.NewElevenLabs(tts.WithAPIKey(s.ElevenLabsKey), tts.WithVoice(voice), tts.WithLogger(log.L()))
		if err != nil {
			return err
		}
		providers = append(providers, p)
		return nil
	}

	// The configured provider goes first; the other joins as a fallback
	// when its key is present.
	primary, secondary := openAI, elevenLabs
	secondaryKey := s.ElevenLabsKey
	if s.Provider == "elevenlabs" {
		primary, secondary = elevenLabs, openAI
		secondaryKey = s.OpenAIKey
	}
	if err := primary(); err != nil {
		return nil, fmt.Errorf("speech provider %s: %w", s.Provider, err)
	}
	if secondaryKey != "" {
		if err := secondary(); err != nil {
			a.logger.Warn("fallback speech provider unavailable", "error", err)
		}
	}

	chain, err := tts.NewChainWithLogger(log.L(), providers...)
	if err != nil {
		return nil, err
	}
	a.chain = chain
	a.voice = feedback.NewTTSSpeaker(chain, a.bridge, log.L())
	return a.voice, nil
}

// newEnrichment builds the cloud scene analysis client. A nil client with a
// nil error means analysis is switched off.
func (a *app) newEnrichment(ctx context.Context, narrator *narration.Engine) (*enrich.Client, error) {
	c := a.cfg.Cloud
	opts := []inference.Option{
		inference.WithTimeout(c.Timeout),
		inference.WithLogger(log.L()),
	}
	if c.Model != "" {
		opts = append(opts, inference.WithVisionModel(c.Model))
	}

	var provider inference.Provider
	switch c.Provider {
	case "none":
		return nil, nil
	case "vertex":
		opts = append(opts, inference.WithProject(c.Project, c.Location))
		if c.CredentialsFile != "" {
			opts = append(opts, inference.WithCredentialsFile(c.CredentialsFile))
		}
		v, err := inference.NewVertex(ctx, opts...)
		if err != nil {
			return nil, err
		}
		provider = v
	default:
		opts = append(opts, inference.WithAPIKey(c.APIKey), inference.WithHTTPClient(httpc.NewClient(c.Timeout)))
		g, err := inference.NewGemini(opts...)
		if err != nil {
			return nil, err
		}
		provider = g
	}
	a.provider = provider

	return enrich.New(provider, narrator, enrich.Config{
		Cooldown:  c.Cooldown,
		Timeout:   c.Timeout,
		ImageSize: enrich.DefaultImageSize,
		Logger:    log.L(),
	}), nil
}

func (a *app) onOutcome(o pipeline.Outcome) {
	a.server.PublishOutcome(o)
}

func (a *app) onAnnouncement(e history.Entry) {
	a.logger.Info("announced", "kind", e.Kind, "phrase", e.Phrase)
	a.server.PublishAnnouncement(e)
}

// Run serves until ctx ends or a component fails.
func (a *app) Run(ctx context.Context) error {
	go a.devices.Run(ctx)

	if a.mqtt != nil {
		go func() {
			if err := a.mqtt.Connect(ctx); err != nil {
				a.logger.Warn("mqtt unavailable, alert events will be dropped until it connects", "broker", a.cfg.MQTT.Broker, "error", err)
			}
		}()
	}

	errc := make(chan error, 2)
	go func() {
		if err := a.server.Start(ctx); err != nil {
			errc <- fmt.Errorf("web server: %w", err)
		}
	}()
	go func() {
		errc <- a.pipeline.Run(ctx, a.frames)
	}()

	if demo, ok := a.engine.(*engine.Demo); ok {
		go a.feedDemo(ctx, demo)
	}

	a.logger.Info("stairguard started",
		"engine", a.engine.Name(),
		"addr", a.cfg.Web.Addr,
		"threshold", a.cfg.Threshold,
		"cloud", a.cfg.Cloud.Provider,
		"speech", a.cfg.Speech.Provider)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// feedDemo supplies blank frames so the scripted scenarios play without a
// camera.
func (a *app) feedDemo(ctx context.Context, demo *engine.Demo) {
	ticker := time.NewTicker(time.Second / demoFrameRate)
	defer ticker.Stop()

	blank := image.NewRGBA(image.Rect(0, 0, 640, 480))
	scenario := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if cur := demo.Current(); cur != scenario {
			scenario = cur
			a.logger.Info("demo scenario", "name", cur)
		}
		select {
		case a.frames <- blank:
		default:
		}
	}
}

// Close releases everything in reverse order of construction.
func (a *app) Close() {
	if err := a.pipeline.Close(); err != nil {
		a.logger.Warn("pipeline close", "error", err)
	}
	if a.chain != nil {
		for _, st := range a.chain.Stats() {
			a.logger.Info("voice summary",
				"provider", st.Name,
				"served", st.Served,
				"failed", st.Failed,
				"disabled", st.Disabled)
		}
	}
	if a.voice != nil {
		a.voice.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	a.bridge.Stop()
	a.logger.Info("stairguard stopped")
}
