// Package device bridges the feedback output lines to a connected phone
// shell over websocket. The shell owns the real speech engine and
// vibrator; the bridge only sends commands and tracks what the shell
// reports back.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/hub"
	"github.com/teslashibe/stairguard/pkg/tts"
)

// ErrNoDevice is returned when no device shell is connected.
var ErrNoDevice = errors.New("device: no device connected")

// Status summarizes the connected devices.
type Status struct {
	Connected  int          `json:"connected"`
	Reported   bool         `json:"reported"`
	LastReport StatusReport `json:"last_report"`
	LastSeen   time.Time    `json:"last_seen"`
	Sent       int64        `json:"sent"`
}

// Bridge implements feedback.Speaker, feedback.Vibrator and
// feedback.AudioSink on top of a hub.
type Bridge struct {
	hub    *hub.Hub
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	reported bool
	last     StatusReport
	lastSeen time.Time
	sent     int64
	stop     chan struct{}
}

// New creates a bridge and subscribes to device reports on h.
func New(h *hub.Hub, clk clock.Clock, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		hub:    h,
		clock:  clock.OrReal(clk),
		logger: logger.With("component", "device.bridge"),
		stop:   make(chan struct{}),
	}
	h.OnMessage(func(c *hub.Client, data []byte) { b.Handle(c.ID, data) })
	h.OnChange(func(n int) {
		if n == 0 {
			b.mu.Lock()
			b.reported = false
			b.mu.Unlock()
		}
	})
	return b
}

// Handle processes a message received from a device.
func (b *Bridge) Handle(from string, data []byte) {
	env, err := Decode(data)
	if err != nil {
		b.logger.Debug("ignoring device message", "from", from, "error", err)
		return
	}
	if env.Type != TypeStatus {
		return
	}
	var report StatusReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		b.logger.Debug("bad status report", "from", from, "error", err)
		return
	}

	b.mu.Lock()
	changed := !b.reported || b.last.TTSReady != report.TTSReady
	b.reported = true
	b.last = report
	b.lastSeen = b.clock.Now()
	b.mu.Unlock()

	if changed {
		b.logger.Info("device status", "device", report.DeviceID, "tts_ready", report.TTSReady)
	}
}

func (b *Bridge) send(t MessageType, payload any) error {
	if b.hub.ClientCount() == 0 {
		return ErrNoDevice
	}
	data, err := Encode(t, b.clock.Now(), payload)
	if err != nil {
		return err
	}
	if !b.hub.Broadcast(hub.NewCriticalMessage(data)) {
		return hub.ErrBackedUp
	}
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return nil
}

// Speak sends a speak command.
func (b *Bridge) Speak(ctx context.Context, text string, flush bool) error {
	return b.send(TypeSpeak, SpeakCommand{Text: text, Flush: flush})
}

// Available reports whether a device is connected and, if it has reported,
// whether its speech engine is ready.
func (b *Bridge) Available() bool {
	if b.hub.ClientCount() == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.reported || b.last.TTSReady
}

// Cancel stops speech and vibration on every device.
func (b *Bridge) Cancel() error {
	err := b.send(TypeCancel, CancelCommand{Target: CancelAll})
	if errors.Is(err, ErrNoDevice) {
		return nil
	}
	return err
}

// Vibrate sends a vibration pattern.
func (b *Bridge) Vibrate(ctx context.Context, p feedback.Pattern) error {
	timings := make([]int64, len(p.Timings))
	for i, t := range p.Timings {
		timings[i] = t.Milliseconds()
	}
	return b.send(TypeVibrate, VibrateCommand{Pattern: p.Name, TimingsMs: timings, Intensities: p.Intensities})
}

// Play sends synthesized audio and waits for its estimated duration.
func (b *Bridge) Play(ctx context.Context, audio *tts.AudioResult) error {
	b.mu.Lock()
	stop := b.stop
	b.mu.Unlock()

	if err := b.send(TypeAudio, AudioCommand{
		Encoding:   string(audio.Format.Encoding),
		SampleRate: audio.Format.SampleRate,
		Audio:      audio.Audio,
	}); err != nil {
		return err
	}
	if audio.Duration <= 0 {
		return nil
	}

	timer := time.NewTimer(audio.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts audio playback.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	close(b.stop)
	b.stop = make(chan struct{})
	b.mu.Unlock()

	err := b.send(TypeCancel, CancelCommand{Target: CancelSpeech})
	if errors.Is(err, ErrNoDevice) {
		return nil
	}
	return err
}

// Status returns the device summary.
func (b *Bridge) Status() Status {
	n := b.hub.ClientCount()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Connected:  n,
		Reported:   b.reported,
		LastReport: b.last,
		LastSeen:   b.lastSeen,
		Sent:       b.sent,
	}
}

var (
	_ feedback.Speaker   = (*Bridge)(nil)
	_ feedback.Vibrator  = (*Bridge)(nil)
	_ feedback.AudioSink = (*Bridge)(nil)
)
