// stairguard watches a camera feed for staircases and warns a walking user
// by voice and vibration through a connected phone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/stairguard/internal/config"
	"github.com/teslashibe/stairguard/internal/log"
	"github.com/teslashibe/stairguard/pkg/engine"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		if errors.Is(err, engine.ErrModelLoad) {
			log.Error("model failed to load", "error", err)
		} else {
			log.Error("startup failed", "error", err)
		}
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("runtime error", "error", err)
		app.Close()
		os.Exit(1)
	}
	app.Close()
}

// loadConfig layers defaults, the YAML file, the environment and flags,
// in increasing precedence.
func loadConfig() (*config.Config, error) {
	fs := flag.NewFlagSet("stairguard", flag.ExitOnError)
	path := fs.String("config", os.Getenv("STAIRGUARD_CONFIG"), "YAML config file")
	envFile := fs.String("env", ".env", "dotenv file, ignored when missing")

	def := config.Default()
	threshold := fs.Float64("threshold", def.Threshold, "detection confidence threshold (0.3-0.95)")
	demo := fs.Bool("demo", false, "run scripted demo scenarios instead of a model")
	rotation := fs.Int("rotation", 0, "camera rotation correction, clockwise degrees")
	boxes := fs.Bool("boxes", false, "stream bounding boxes to /ws/status")
	noAudio := fs.Bool("no-audio", false, "disable spoken alerts")
	noHaptic := fs.Bool("no-haptic", false, "disable vibration")
	noSmoothing := fs.Bool("no-smoothing", false, "disable multi-frame confirmation")
	model := fs.String("model", def.Model.Path, "ONNX model path")
	backend := fs.String("backend", def.Model.Backend, "inference backend: opencv, onnx, demo")
	cloud := fs.String("cloud", def.Cloud.Provider, "scene analysis provider: gemini, vertex, none")
	speech := fs.String("speech", def.Speech.Provider, "speech output: device, openai, elevenlabs")
	addr := fs.String("addr", def.Web.Addr, "HTTP listen address")
	journal := fs.String("journal", "", "SQLite alert journal path")
	broker := fs.String("mqtt", "", "MQTT broker for alert events")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			cfg.Threshold = *threshold
		case "demo":
			cfg.Demo = *demo
		case "rotation":
			cfg.Rotation = *rotation
		case "boxes":
			cfg.ShowBoxes = *boxes
		case "no-audio":
			cfg.Audio = !*noAudio
		case "no-haptic":
			cfg.Haptic = !*noHaptic
		case "no-smoothing":
			cfg.Smoothing.Enabled = !*noSmoothing
		case "model":
			cfg.Model.Path = *model
		case "backend":
			cfg.Model.Backend = *backend
		case "cloud":
			cfg.Cloud.Provider = *cloud
		case "speech":
			cfg.Speech.Provider = *speech
		case "addr":
			cfg.Web.Addr = *addr
		case "journal":
			cfg.History.Journal = *journal
		case "mqtt":
			cfg.MQTT.Broker = *broker
		case "debug":
			if *debug {
				cfg.LogLevel = "debug"
			}
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
