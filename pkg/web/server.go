// Package web exposes the pipeline over HTTP and websockets: status,
// history, replay, forced analysis, frame ingestion and the device link.
package web

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/history"
	"github.com/teslashibe/stairguard/pkg/hub"
	"github.com/teslashibe/stairguard/pkg/narration"
	"github.com/teslashibe/stairguard/pkg/pipeline"
)

// Backend is the pipeline surface the server drives.
type Backend interface {
	Status() pipeline.Status
	History() []history.Entry
	ReplayLast(ctx context.Context) (narration.Phrase, error)
	Analyze(force bool) (*enrich.Task, error)
	Reset()
}

// Config holds server settings.
type Config struct {
	Addr string

	// Frames receives decoded frames posted to /api/frames. Nil disables
	// the endpoint.
	Frames chan<- image.Image

	// DeviceHub serves /ws/device. Its Run loop is owned by the caller.
	DeviceHub *hub.Hub

	// Journal serves /api/history?persisted=true.
	Journal history.Journal

	// ShowBoxes includes bounding boxes in /ws/status frame messages.
	ShowBoxes bool

	// AnalyzeWait bounds /api/analyze?wait=true.
	AnalyzeWait time.Duration

	// LogLevel is exposed at /api/log-level for live changes. Nil disables
	// the endpoint.
	LogLevel *slog.LevelVar

	Logger *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	app       *fiber.App
	cfg       Config
	backend   Backend
	statusHub *hub.Hub
	logger    *slog.Logger
}

// NewServer builds the fiber app and routes.
func NewServer(backend Backend, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.AnalyzeWait <= 0 {
		cfg.AnalyzeWait = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		backend:   backend,
		statusHub: hub.New("status", cfg.Logger),
		logger:    cfg.Logger.With("component", "web.server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "stairguard",
		DisableStartupMessage: true,
		BodyLimit:             8 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)
	api.Post("/replay", s.handleReplay)
	api.Post("/analyze", s.handleAnalyze)
	api.Post("/frames", s.handleFrame)
	api.Post("/reset", s.handleReset)
	api.Get("/hubs", s.handleHubs)
	if cfg.LogLevel != nil {
		api.Get("/log-level", s.handleGetLogLevel)
		api.Put("/log-level", s.handleSetLogLevel)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	if cfg.DeviceHub != nil {
		app.Get("/ws/device", websocket.New(s.handleDeviceWS))
	}

	s.app = app
	return s
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// StatusHub returns the hub that feeds /ws/status.
func (s *Server) StatusHub() *hub.Hub {
	return s.statusHub
}

// Start runs the status hub and listens until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// frameMessage is broadcast on /ws/status for every processed frame.
type frameMessage struct {
	Type      string         `json:"type"`
	Seq       uint64         `json:"seq"`
	TS        int64          `json:"ts"`
	Hazard    bool           `json:"hazard"`
	Confirmed bool           `json:"confirmed"`
	Decision  string         `json:"decision"`
	Phrase    string         `json:"phrase,omitempty"`
	MaxConf   float64        `json:"max_confidence"`
	Primary   *pipeline.Box  `json:"primary,omitempty"`
	Boxes     []pipeline.Box `json:"boxes,omitempty"`
}

type announcementMessage struct {
	Type  string        `json:"type"`
	Entry history.Entry `json:"entry"`
}

// PublishOutcome broadcasts a processed frame to status clients.
func (s *Server) PublishOutcome(o pipeline.Outcome) {
	if s.statusHub.ClientCount() == 0 {
		return
	}
	msg := frameMessage{
		Type:      "frame",
		Seq:       o.Seq,
		TS:        o.At.UnixMilli(),
		Hazard:    o.Hazard,
		Confirmed: o.Confirmed,
		Decision:  o.Decision.String(),
		Phrase:    o.Phrase.Text,
		MaxConf:   o.Stats.MaxConfidence,
	}
	if o.Primary != nil {
		b := pipeline.BoxOf(*o.Primary)
		msg.Primary = &b
	}
	if s.cfg.ShowBoxes {
		msg.Boxes = o.Boxes()
	}
	if err := s.statusHub.BroadcastJSON(msg); err != nil {
		s.logger.Debug("encode frame message", "error", err)
	}
}

// PublishAnnouncement broadcasts an announcement to status clients.
func (s *Server) PublishAnnouncement(e history.Entry) {
	if s.statusHub.ClientCount() == 0 {
		return
	}
	if err := s.statusHub.BroadcastCritical(announcementMessage{Type: "announcement", Entry: e}); err != nil {
		s.logger.Warn("announcement not broadcast", "error", err)
	}
}
