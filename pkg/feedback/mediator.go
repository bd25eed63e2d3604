// Package feedback owns the audio and haptic output lines. Only one phrase
// is active at a time, newer phrases replace queued ones, and haptic pulses
// are rate limited independently of speech.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/narration"
)

// DefaultHapticInterval is the minimum spacing between pulses.
const DefaultHapticInterval = 500 * time.Millisecond

var (
	// ErrClosed is returned once the mediator has been torn down.
	ErrClosed = errors.New("feedback: mediator closed")

	// ErrSpeechUnavailable marks a speaker that cannot talk right now.
	ErrSpeechUnavailable = errors.New("feedback: speech unavailable")
)

// Speaker is the audio output line. flush interrupts the active phrase;
// without flush the phrase waits for the active one and replaces anything
// already queued.
type Speaker interface {
	Speak(ctx context.Context, text string, flush bool) error
	Cancel() error
	Available() bool
}

// FailureNotifier is implemented by speakers that accept a phrase before
// voicing it and can fail afterwards.
type FailureNotifier interface {
	OnFailure(fn func(text string, err error))
}

// Vibrator is the haptic output line.
type Vibrator interface {
	Vibrate(ctx context.Context, p Pattern) error
	Cancel() error
}

// Config holds mediator settings.
type Config struct {
	AudioEnabled   bool
	HapticEnabled  bool
	HapticInterval time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// DefaultConfig enables both channels.
func DefaultConfig() Config {
	return Config{
		AudioEnabled:   true,
		HapticEnabled:  true,
		HapticInterval: DefaultHapticInterval,
	}
}

// Status is the passive health indicator of the output lines.
type Status struct {
	AudioEnabled   bool      `json:"audio_enabled"`
	HapticEnabled  bool      `json:"haptic_enabled"`
	AudioAvailable bool      `json:"audio_available"`
	Degraded       bool      `json:"degraded"`
	LastError      string    `json:"last_error,omitempty"`
	LastPhrase     string    `json:"last_phrase,omitempty"`
	LastSpoken     time.Time `json:"last_spoken"`
	Spoken         int       `json:"spoken"`
	Substituted    int       `json:"substituted"`
	Pulses         int       `json:"pulses"`
	Closed         bool      `json:"closed"`
}

// Mediator is the feedback mediator.
type Mediator struct {
	speaker  Speaker
	vibrator Vibrator
	arbiter  *alert.Arbiter
	narrator *narration.Engine
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	lastPulse time.Time
	status    Status
	recent    [2]narration.Phrase // active and queued, newest first
}

// New creates a mediator. speaker and vibrator may be nil; a missing
// speaker puts the mediator in degraded, haptic-only mode.
func New(speaker Speaker, vibrator Vibrator, arbiter *alert.Arbiter, narrator *narration.Engine, cfg Config) *Mediator {
	if cfg.HapticInterval <= 0 {
		cfg.HapticInterval = DefaultHapticInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if arbiter == nil {
		arbiter = alert.NewArbiter(alert.DefaultConfig())
	}
	if narrator == nil {
		narrator = narration.New(narration.Categorical, nil)
	}
	m := &Mediator{
		speaker:  speaker,
		vibrator: vibrator,
		arbiter:  arbiter,
		narrator: narrator,
		cfg:      cfg,
		clock:    clock.OrReal(cfg.Clock),
		logger:   cfg.Logger.With("component", "feedback.mediator"),
	}
	m.status.AudioEnabled = cfg.AudioEnabled
	m.status.HapticEnabled = cfg.HapticEnabled
	if n, ok := speaker.(FailureNotifier); ok {
		n.OnFailure(m.speechLost)
	}
	return m
}

// Speak says text immediately, interrupting whatever is playing.
func (m *Mediator) Speak(ctx context.Context, text string) error {
	return m.say(ctx, narration.Phrase{Text: text, Urgency: narration.Notice}, true)
}

// SpeakPhrase says a local alert phrase, interrupting whatever is playing.
func (m *Mediator) SpeakPhrase(ctx context.Context, p narration.Phrase) error {
	return m.say(ctx, p, true)
}

// SpeakGuidance says cloud guidance after the active phrase finishes. It
// replaces any phrase still waiting in the queue.
func (m *Mediator) SpeakGuidance(ctx context.Context, p narration.Phrase) error {
	return m.say(ctx, p, false)
}

// SpeakIfDue runs the arbiter for the current frame and speaks the phrase
// it allows, if any.
func (m *Mediator) SpeakIfDue(ctx context.Context, hazard bool, primary *detection.Detection, now time.Time) (alert.Decision, narration.Phrase, error) {
	if m.isClosed() {
		return alert.Silent, narration.Phrase{}, ErrClosed
	}
	decision := m.arbiter.Evaluate(hazard, now)
	phrase, ok := m.narrator.Compose(decision, primary)
	if !ok {
		return decision, narration.Phrase{}, nil
	}
	return decision, phrase, m.SpeakPhrase(ctx, phrase)
}

func (m *Mediator) say(ctx context.Context, p narration.Phrase, flush bool) error {
	if p.Empty() {
		return nil
	}
	if m.isClosed() {
		m.logger.Debug("discarding phrase after close", "text", p.Text)
		return ErrClosed
	}
	if !m.cfg.AudioEnabled {
		return nil
	}

	if m.speaker == nil || !m.speaker.Available() {
		m.degrade(ctx, p, ErrSpeechUnavailable)
		return nil
	}
	// Counted before the hand-off: a speaker that accepts and then fails
	// reports back through speechLost, possibly before Speak returns.
	m.mu.Lock()
	prev := m.status
	m.status.Degraded = false
	m.status.LastError = ""
	m.status.AudioAvailable = true
	m.status.LastPhrase = p.Text
	m.status.LastSpoken = m.clock.Now()
	m.status.Spoken++
	m.recent[1], m.recent[0] = m.recent[0], p
	m.mu.Unlock()

	if err := m.speaker.Speak(ctx, p.Text, flush); err != nil {
		m.mu.Lock()
		m.status.Spoken--
		m.status.LastPhrase, m.status.LastSpoken = prev.LastPhrase, prev.LastSpoken
		m.mu.Unlock()
		m.degrade(ctx, p, err)
		return nil
	}
	if prev.Degraded {
		m.logger.Info("speech restored")
	}

	m.logger.Debug("spoke", "text", p.Text, "urgency", p.Urgency, "flush", flush)
	return nil
}

// speechLost handles a phrase the speaker accepted but could not voice. It
// is no longer counted as spoken and gets the haptic substitute.
func (m *Mediator) speechLost(text string, err error) {
	m.mu.Lock()
	if m.status.Closed {
		m.mu.Unlock()
		return
	}
	p := narration.Phrase{Text: text, Urgency: narration.Notice}
	for _, r := range m.recent {
		if r.Text == text {
			p = r
			break
		}
	}
	if m.status.Spoken > 0 {
		m.status.Spoken--
	}
	m.mu.Unlock()

	m.degrade(context.Background(), p, err)
}

// degrade records that speech failed and substitutes a vibration coded by
// the phrase urgency.
func (m *Mediator) degrade(ctx context.Context, p narration.Phrase, cause error) {
	m.mu.Lock()
	first := !m.status.Degraded
	m.status.Degraded = true
	m.status.AudioAvailable = false
	m.status.LastError = cause.Error()
	m.status.Substituted++
	m.mu.Unlock()

	if first {
		m.logger.Warn("speech unavailable, falling back to haptics", "error", cause)
	}
	if pattern, ok := urgencyPattern(p.Urgency); ok {
		m.pulse(ctx, pattern)
	}
}

// PulseForDistance vibrates with the pattern for b. It reports false when
// the pulse was suppressed by the rate limit or haptics are off.
func (m *Mediator) PulseForDistance(ctx context.Context, b detection.DistanceBucket) (bool, error) {
	return m.pulse(ctx, DistancePattern(b))
}

// PulseLateral vibrates with the pattern that indicates direction d.
func (m *Mediator) PulseLateral(ctx context.Context, d detection.Direction) (bool, error) {
	return m.pulse(ctx, LateralPattern(d))
}

func (m *Mediator) pulse(ctx context.Context, p Pattern) (bool, error) {
	if !m.cfg.HapticEnabled || m.vibrator == nil {
		return false, nil
	}

	m.mu.Lock()
	if m.status.Closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	now := m.clock.Now()
	if !m.lastPulse.IsZero() && now.Sub(m.lastPulse) < m.cfg.HapticInterval {
		m.mu.Unlock()
		return false, nil
	}
	m.lastPulse = now
	m.status.Pulses++
	m.mu.Unlock()

	if err := m.vibrator.Vibrate(ctx, p); err != nil {
		m.logger.Debug("vibrate failed", "pattern", p.Name, "error", err)
		return false, err
	}
	return true, nil
}

// CancelAll silences both output lines.
func (m *Mediator) CancelAll() error {
	var errs []error
	if m.speaker != nil {
		if err := m.speaker.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.vibrator != nil {
		if err := m.vibrator.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Arbiter returns the arbiter used by SpeakIfDue.
func (m *Mediator) Arbiter() *alert.Arbiter {
	return m.arbiter
}

// Status returns the output health snapshot.
func (m *Mediator) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	if !s.Degraded && !s.Closed {
		s.AudioAvailable = m.speaker != nil && m.speaker.Available()
	}
	return s
}

// Reset forgets the haptic rate limit.
func (m *Mediator) Reset() {
	m.mu.Lock()
	m.lastPulse = time.Time{}
	m.mu.Unlock()
}

// Close silences output and rejects further requests.
func (m *Mediator) Close() error {
	m.mu.Lock()
	if m.status.Closed {
		m.mu.Unlock()
		return nil
	}
	m.status.Closed = true
	m.mu.Unlock()
	return m.CancelAll()
}

func (m *Mediator) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Closed
}
