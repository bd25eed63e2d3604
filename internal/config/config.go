// Package config loads stairguard settings. Values are layered: defaults,
// then an optional YAML file, then the environment (including a .env file),
// then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/stairguard/pkg/narration"
)

// Threshold bounds.
const (
	MinThreshold = 0.3
	MaxThreshold = 0.95
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete service configuration.
type Config struct {
	Threshold float64 `yaml:"threshold"`
	Audio     bool    `yaml:"audio"`
	Haptic    bool    `yaml:"haptic"`
	ShowBoxes bool    `yaml:"show_boxes"`
	Demo      bool    `yaml:"demo"`

	// Rotation corrects camera mounting, clockwise degrees in steps of 90.
	Rotation int `yaml:"rotation"`

	Smoothing SmoothingConfig `yaml:"smoothing"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Narration NarrationConfig `yaml:"narration"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Model     ModelConfig     `yaml:"model"`
	Speech    SpeechConfig    `yaml:"speech"`
	Web       WebConfig       `yaml:"web"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json; empty follows GO_ENV
}

// SmoothingConfig controls multi-frame hazard confirmation.
type SmoothingConfig struct {
	Enabled bool `yaml:"enabled"`
	Window  int  `yaml:"window"`
	Min     int  `yaml:"min"`
}

// AlertConfig holds output rate limits.
type AlertConfig struct {
	HazardInterval time.Duration `yaml:"hazard_interval"`
	ClearInterval  time.Duration `yaml:"clear_interval"`
	HapticInterval time.Duration `yaml:"haptic_interval"`
}

// NarrationConfig selects phrasing.
type NarrationConfig struct {
	DistanceStyle string `yaml:"distance_style"` // categorical, numeric
	Policy        string `yaml:"policy"`         // first, round-robin, seeded
	Seed          int64  `yaml:"seed"`
}

// CloudConfig configures scene enrichment.
type CloudConfig struct {
	Provider    string        `yaml:"provider"` // gemini, vertex, none
	AutoAnalyze bool          `yaml:"auto_analyze"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Timeout     time.Duration `yaml:"timeout"`
	Model       string        `yaml:"model"`

	APIKey          string `yaml:"api_key"`
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ModelConfig selects the detection backend.
type ModelConfig struct {
	Backend      string `yaml:"backend"` // opencv, onnx, demo
	Path         string `yaml:"path"`
	InputSize    int    `yaml:"input_size"`
	Anchors      int    `yaml:"anchors"`
	PixelOutputs bool   `yaml:"pixel_outputs"`
	LibraryPath  string `yaml:"library_path"`
}

// SpeechConfig selects where phrases are voiced.
type SpeechConfig struct {
	Provider      string `yaml:"provider"` // device, openai, elevenlabs
	Voice         string `yaml:"voice"`
	OpenAIKey     string `yaml:"openai_api_key"`
	ElevenLabsKey string `yaml:"elevenlabs_api_key"`
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig configures the obstacle history.
type HistoryConfig struct {
	Capacity int    `yaml:"capacity"`
	Journal  string `yaml:"journal"` // SQLite path, empty disables
}

// MQTTConfig configures alert event publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Threshold: 0.6,
		Audio:     true,
		Haptic:    true,
		Smoothing: SmoothingConfig{Enabled: true, Window: 5, Min: 2},
		Alerts: AlertConfig{
			HazardInterval: 2 * time.Second,
			ClearInterval:  7500 * time.Millisecond,
			HapticInterval: 500 * time.Millisecond,
		},
		Narration: NarrationConfig{DistanceStyle: "categorical", Policy: "first"},
		Cloud: CloudConfig{
			Provider:    "gemini",
			AutoAnalyze: true,
			Cooldown:    8 * time.Second,
			Timeout:     15 * time.Second,
			Location:    "us-central1",
		},
		Model: ModelConfig{
			Backend:   "opencv",
			Path:      "models/stairs.onnx",
			InputSize: 640,
			Anchors:   8400,
		},
		Speech:   SpeechConfig{Provider: "device"},
		Web:      WebConfig{Addr: ":8080"},
		History:  HistoryConfig{Capacity: 10},
		MQTT:     MQTTConfig{Topic: "stairguard/alerts", ClientID: "stairguard"},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the named .env files, or ./.env when none are given.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	float("STAIRGUARD_THRESHOLD", &c.Threshold)
	boolean("STAIRGUARD_AUDIO", &c.Audio)
	boolean("STAIRGUARD_HAPTIC", &c.Haptic)
	boolean("STAIRGUARD_SHOW_BOXES", &c.ShowBoxes)
	boolean("STAIRGUARD_DEMO", &c.Demo)
	integer("STAIRGUARD_ROTATION", &c.Rotation)
	boolean("STAIRGUARD_SMOOTHING", &c.Smoothing.Enabled)
	duration("STAIRGUARD_CLOUD_COOLDOWN", &c.Cloud.Cooldown)
	duration("STAIRGUARD_CLOUD_TIMEOUT", &c.Cloud.Timeout)
	str("STAIRGUARD_CLOUD_PROVIDER", &c.Cloud.Provider)
	str("STAIRGUARD_MODEL", &c.Model.Path)
	str("STAIRGUARD_MODEL_BACKEND", &c.Model.Backend)
	str("ONNXRUNTIME_LIB", &c.Model.LibraryPath)
	str("STAIRGUARD_ADDR", &c.Web.Addr)
	str("STAIRGUARD_JOURNAL", &c.History.Journal)
	str("STAIRGUARD_SPEECH", &c.Speech.Provider)

	str("GEMINI_API_KEY", &c.Cloud.APIKey)
	str("GOOGLE_CLOUD_PROJECT", &c.Cloud.Project)
	str("GOOGLE_CLOUD_LOCATION", &c.Cloud.Location)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Cloud.CredentialsFile)

	str("OPENAI_API_KEY", &c.Speech.OpenAIKey)
	str("ELEVENLABS_API_KEY", &c.Speech.ElevenLabsKey)
	str("STAIRGUARD_VOICE", &c.Speech.Voice)

	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_TOPIC", &c.MQTT.Topic)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	return errors.Join(errs...)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Threshold < MinThreshold || c.Threshold > MaxThreshold {
		problems = append(problems, fmt.Sprintf("threshold %.2f outside [%.2f, %.2f]", c.Threshold, MinThreshold, MaxThreshold))
	}
	if c.Rotation%90 != 0 {
		problems = append(problems, fmt.Sprintf("rotation %d is not a multiple of 90", c.Rotation))
	}
	if c.Smoothing.Enabled && (c.Smoothing.Window < 1 || c.Smoothing.Min < 1 || c.Smoothing.Min > c.Smoothing.Window) {
		problems = append(problems, fmt.Sprintf("smoothing needs 1 <= min <= window, got %d/%d", c.Smoothing.Min, c.Smoothing.Window))
	}
	if c.Alerts.HazardInterval <= 0 || c.Alerts.ClearInterval <= 0 {
		problems = append(problems, "alert intervals must be positive")
	}
	if c.Cloud.Cooldown <= 0 || c.Cloud.Timeout <= 0 {
		problems = append(problems, "cloud cooldown and timeout must be positive")
	}
	if c.History.Capacity < 1 {
		problems = append(problems, "history capacity must be at least 1")
	}
	if _, err := narration.ParseDistanceStyle(c.Narration.DistanceStyle); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := narration.NewSelector(c.Narration.Policy, c.Narration.Seed); err != nil {
		problems = append(problems, err.Error())
	}
	if !oneOf(c.Cloud.Provider, "gemini", "vertex", "none") {
		problems = append(problems, fmt.Sprintf("unknown cloud provider %q", c.Cloud.Provider))
	}
	if !c.Demo && !oneOf(c.Model.Backend, "opencv", "onnx", "demo") {
		problems = append(problems, fmt.Sprintf("unknown model backend %q", c.Model.Backend))
	}
	if !oneOf(c.Speech.Provider, "device", "openai", "elevenlabs") {
		problems = append(problems, fmt.Sprintf("unknown speech provider %q", c.Speech.Provider))
	}
	if c.LogFormat != "" && !oneOf(c.LogFormat, "text", "json") {
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Backend returns the effective model backend. Demo mode always wins.
func (c *Config) Backend() string {
	if c.Demo {
		return "demo"
	}
	return c.Model.Backend
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
