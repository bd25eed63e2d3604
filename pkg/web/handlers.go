package web

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg" // frame uploads
	_ "image/png"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/hub"
	"github.com/teslashibe/stairguard/pkg/pipeline"
)

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns the pipeline snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.backend.Status())
}

// handleHubs reports websocket fan-out health: connected clients and how
// much telemetry slow clients have missed.
func (s *Server) handleHubs(c *fiber.Ctx) error {
	out := []hub.Stats{s.statusHub.Stats()}
	if s.cfg.DeviceHub != nil {
		out = append(out, s.cfg.DeviceHub.Stats())
	}
	return c.JSON(out)
}

func (s *Server) handleGetLogLevel(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"level": s.cfg.LogLevel.Level().String()})
}

// handleSetLogLevel takes ?level=debug|info|warn|error.
func (s *Server) handleSetLogLevel(c *fiber.Ctx) error {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(c.Query("level"))); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	s.cfg.LogLevel.Set(lv)
	s.logger.Info("log level changed", "level", lv.String())
	return c.JSON(fiber.Map{"level": lv.String()})
}

// handleHistory returns recent announcements, newest first. With
// persisted=true it reads the journal instead of the ring.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	if c.QueryBool("persisted") {
		if s.cfg.Journal == nil {
			return errorJSON(c, fiber.StatusNotFound, errors.New("no journal configured"))
		}
		limit := c.QueryInt("limit", 50)
		entries, err := s.cfg.Journal.Recent(c.UserContext(), limit)
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(entries)
	}
	entries := s.backend.History()
	if entries == nil {
		return c.JSON([]any{})
	}
	return c.JSON(entries)
}

// handleReplay speaks and returns a description of the last alert.
func (s *Server) handleReplay(c *fiber.Ctx) error {
	phrase, err := s.backend.ReplayLast(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, err)
	}
	return c.JSON(fiber.Map{
		"text":    phrase.Text,
		"urgency": phrase.Urgency.String(),
	})
}

type resultJSON struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Urgency   string `json:"urgency"`
	Forced    bool   `json:"forced"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

func toResultJSON(r enrich.Result) resultJSON {
	out := resultJSON{
		ID:        r.ID,
		Kind:      r.Kind.String(),
		Text:      r.Text,
		Urgency:   r.Urgency.String(),
		Forced:    r.Forced,
		Reason:    r.Reason,
		LatencyMs: r.Latency.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// handleAnalyze triggers cloud analysis of the latest frame. Gate
// rejections answer 429; wait=true blocks for the result.
func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	force := c.QueryBool("force")
	task, err := s.backend.Analyze(force)
	switch {
	case errors.Is(err, enrich.ErrInFlight), errors.Is(err, enrich.ErrCooldown), errors.Is(err, enrich.ErrNoDetections):
		return errorJSON(c, fiber.StatusTooManyRequests, err)
	case errors.Is(err, pipeline.ErrNoEnrichment):
		return errorJSON(c, fiber.StatusServiceUnavailable, err)
	case err != nil:
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	if !c.QueryBool("wait") {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": task.ID, "forced": task.Forced})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalyzeWait)
	defer cancel()
	result, err := task.Wait(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusGatewayTimeout, err)
	}
	return c.JSON(toResultJSON(result))
}

// handleFrame decodes an uploaded JPEG or PNG and queues it for the
// pipeline without blocking.
func (s *Server) handleFrame(c *fiber.Ctx) error {
	if s.cfg.Frames == nil {
		return errorJSON(c, fiber.StatusNotFound, errors.New("frame ingestion disabled"))
	}
	body := c.Body()
	if len(body) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("empty body"))
	}
	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}

	select {
	case s.cfg.Frames <- img:
	default:
		return errorJSON(c, fiber.StatusServiceUnavailable, errors.New("frame queue full"))
	}

	b := img.Bounds()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"format": format,
		"width":  b.Dx(),
		"height": b.Dy(),
	})
}

// handleReset clears alert and cooldown state.
func (s *Server) handleReset(c *fiber.Ctx) error {
	s.backend.Reset()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleStatusWS streams frame and announcement messages. The current
// status is written before the client joins the hub so it never races
// the write pump.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(fiber.Map{"type": "status", "status": s.backend.Status()}); err != nil {
		return
	}
	client := hub.NewClient(s.statusHub, c, "status-"+shortID())
	client.Run()
}

// handleDeviceWS connects a phone shell to the device bridge.
func (s *Server) handleDeviceWS(c *websocket.Conn) {
	id := c.Query("id")
	if id == "" {
		id = "device-" + shortID()
	}
	client := hub.NewClient(s.cfg.DeviceHub, c, id)
	client.Run()
}

func shortID() string {
	return strconv.FormatUint(uint64(uuid.New().ID()), 36)
}
