// Package pipeline is the per-frame orchestrator. It owns the alert state
// (through the mediator's arbiter) and the cloud call state (through the
// enrichment client) and drives decode, smoothing, arbitration, narration
// and feedback synchronously for each frame, in acquisition order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/emit"
	"github.com/teslashibe/stairguard/pkg/engine"
	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/history"
	"github.com/teslashibe/stairguard/pkg/narration"
)

var (
	ErrClosed       = errors.New("pipeline: closed")
	ErrNoEngine     = errors.New("pipeline: no inference engine")
	ErrNoMediator   = errors.New("pipeline: no feedback mediator")
	ErrNoEnrichment = errors.New("pipeline: cloud enrichment disabled")
)

// Outcome describes one processed frame.
type Outcome struct {
	Seq          uint64                `json:"seq"`
	At           time.Time             `json:"ts"`
	Detections   detection.Frame       `json:"-"`
	Stats        detection.DecodeStats `json:"stats"`
	Primary      *detection.Detection  `json:"-"`
	Hazard       bool                  `json:"hazard"`
	Confirmed    bool                  `json:"confirmed"`
	Decision     alert.Decision        `json:"-"`
	Phrase       narration.Phrase      `json:"-"`
	Pulsed       bool                  `json:"pulsed"`
	Pulse        string                `json:"pulse,omitempty"`
	Announcement *history.Entry        `json:"announcement,omitempty"`
	AnalysisID   string                `json:"analysis_id,omitempty"`
	Latency      time.Duration         `json:"-"`
}

// Pipeline processes frames one at a time.
type Pipeline struct {
	cfg      Config
	decoder  *detection.Decoder
	smoother *detection.Smoother
	engine   engine.Engine
	mediator *feedback.Mediator
	enrich   *enrich.Client
	recorder *history.Recorder
	emitter  emit.Emitter
	narrator *narration.Engine
	clock    clock.Clock
	logger   *slog.Logger

	// procMu serializes frames so N+1 never starts before N finishes.
	procMu sync.Mutex

	mu           sync.RWMutex
	seq          uint64
	hazardFrames uint64
	malformed    uint64
	last         Outcome
	lastImage    image.Image
	lastFrame    detection.Frame
	lastPrimary  *detection.Detection
	sincePrimary int
	lastEntry    *history.Entry
	closed       bool
}

// New builds a pipeline from DefaultConfig with opts applied.
func New(opts ...Option) (*Pipeline, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Mediator == nil {
		return nil, ErrNoMediator
	}
	decoder, err := detection.NewDecoder(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Narrator == nil {
		cfg.Narrator = narration.New(narration.Categorical, nil)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = emit.Nop{}
	}

	p := &Pipeline{
		cfg:      *cfg,
		decoder:  decoder,
		engine:   cfg.Engine,
		mediator: cfg.Mediator,
		enrich:   cfg.Enrich,
		recorder: cfg.Recorder,
		emitter:  cfg.Emitter,
		narrator: cfg.Narrator,
		clock:    clock.OrReal(cfg.Clock),
		logger:   cfg.Logger.With("component", "pipeline"),
	}
	if cfg.Smoothing {
		p.smoother = detection.NewSmoother(cfg.SmoothingWindow, cfg.SmoothingMin)
	}
	if p.enrich != nil {
		p.enrich.SetDeliver(p.deliver)
	}
	return p, nil
}

// Process runs inference on img and processes the result.
func (p *Pipeline) Process(ctx context.Context, img image.Image) (Outcome, error) {
	if p.engine == nil {
		return Outcome{}, ErrNoEngine
	}
	start := time.Now()
	tensor, err := p.engine.Infer(ctx, img)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: infer: %w", err)
	}
	out, err := p.ProcessTensor(ctx, tensor, img)
	out.Latency = time.Since(start)
	return out, err
}

// ProcessTensor runs every stage after inference. img is kept for cloud
// analysis and may be nil.
func (p *Pipeline) ProcessTensor(ctx context.Context, t *detection.Tensor, img image.Image) (Outcome, error) {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	if p.isClosed() {
		return Outcome{}, ErrClosed
	}

	frame, stats, err := p.decoder.Decode(t)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: decode: %w", err)
	}

	now := p.clock.Now()
	out := Outcome{At: now, Detections: frame, Stats: stats, Hazard: !frame.Empty()}

	primary := detection.SelectPrimary(frame)
	confirmed, pending, primary := p.smooth(out.Hazard, primary)
	out.Confirmed = confirmed
	out.Primary = primary

	// A visible but unconfirmed detection holds the arbiter where it is
	// rather than letting it announce "path clear".
	if !pending {
		decision, phrase, err := p.mediator.SpeakIfDue(ctx, confirmed, primary, now)
		if err != nil {
			return out, err
		}
		out.Decision, out.Phrase = decision, phrase
	}

	if confirmed && primary != nil {
		out.Pulsed, out.Pulse = p.pulse(ctx, out.Decision, *primary)
	}

	if out.Decision.Announce() && !out.Phrase.Empty() {
		entry := p.announce(ctx, entryFor(out.Decision, primary, out.Phrase, now))
		out.Announcement = &entry
		p.logger.Info("announced", "kind", entry.Kind, "phrase", entry.Phrase)
	}

	analysisFrame := frame
	if frame.Empty() && primary != nil {
		analysisFrame = detection.Frame{*primary}
	}
	if p.cfg.AutoAnalyze && confirmed && img != nil && p.enrich != nil {
		if task, err := p.enrich.Request(img, analysisFrame, false); err == nil {
			out.AnalysisID = task.ID
		}
	}

	p.mu.Lock()
	p.seq++
	out.Seq = p.seq
	if out.Hazard {
		p.hazardFrames++
	}
	p.malformed += uint64(stats.Malformed)
	p.last = out
	if img != nil {
		p.lastImage = img
		p.lastFrame = analysisFrame
	}
	p.mu.Unlock()

	p.logger.Debug("frame",
		"seq", out.Seq,
		"detections", len(frame),
		"max_conf", stats.MaxConfidence,
		"confirmed", confirmed,
		"decision", out.Decision)

	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(out)
	}
	return out, nil
}

// pulse vibrates for the primary detection. A hazard announcement for
// stairs off to one side points the user at them; every other confirmed
// frame pulses the distance pattern.
func (p *Pipeline) pulse(ctx context.Context, decision alert.Decision, primary detection.Detection) (bool, string) {
	var (
		ok      bool
		pattern feedback.Pattern
	)
	if dir := detection.Summarize(primary).Direction; decision == alert.AnnounceHazard && dir != detection.Ahead {
		ok, _ = p.mediator.PulseLateral(ctx, dir)
		pattern = feedback.LateralPattern(dir)
	} else {
		ok, _ = p.mediator.PulseForDistance(ctx, primary.Distance)
		pattern = feedback.DistancePattern(primary.Distance)
	}
	if !ok {
		return false, ""
	}
	return true, pattern.Name
}

// smooth applies the temporal filter. pending is true when the current
// frame has detections that the window has not confirmed yet. A confirmed
// hazard on an empty frame reuses the last primary seen inside the window.
func (p *Pipeline) smooth(hazard bool, primary *detection.Detection) (confirmed, pending bool, _ *detection.Detection) {
	if p.smoother == nil {
		return hazard, false, primary
	}
	confirmed = p.smoother.Observe(hazard)
	size, _ := p.smoother.Window()

	if primary != nil {
		p.lastPrimary = primary
		p.sincePrimary = 0
	} else {
		p.sincePrimary++
	}

	if !confirmed {
		return false, hazard, nil
	}
	if primary == nil && p.lastPrimary != nil && p.sincePrimary < size {
		primary = p.lastPrimary
	}
	if primary == nil {
		return false, false, nil
	}
	return true, false, primary
}

func entryFor(d alert.Decision, primary *detection.Detection, phrase narration.Phrase, at time.Time) history.Entry {
	e := history.Entry{At: at, Kind: history.KindClear, Phrase: phrase.Text}
	if d == alert.AnnounceHazard && primary != nil {
		e.Kind = history.KindHazard
		e.Category = primary.Category
		e.Distance = primary.Meters()
		e.Confidence = primary.Confidence
	}
	return e
}

func (p *Pipeline) announce(ctx context.Context, e history.Entry) history.Entry {
	if p.recorder != nil {
		e = p.recorder.Record(ctx, e)
	} else if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := p.emitter.Publish(ctx, e); err != nil {
		p.logger.Debug("event not published", "id", e.ID, "error", err)
	}

	p.mu.Lock()
	p.lastEntry = &e
	p.mu.Unlock()

	if p.cfg.OnAnnouncement != nil {
		p.cfg.OnAnnouncement(e)
	}
	return e
}

// deliver receives cloud results. Guidance is spoken without interrupting
// the active local phrase.
func (p *Pipeline) deliver(r enrich.Result) {
	ctx := context.Background()
	if err := p.mediator.SpeakGuidance(ctx, r.Phrase()); errors.Is(err, feedback.ErrClosed) {
		return
	}

	e := history.Entry{At: p.clock.Now(), Kind: history.KindGuidance, Phrase: r.Text}
	switch {
	case !r.OK() && r.Summary == nil:
		e.Kind = history.KindClear
	case !r.OK():
		e.Kind = history.KindFallback
	}
	if r.Summary != nil {
		e.Category = r.Summary.Category
		e.Distance = r.Summary.DistanceMeters
		e.Confidence = r.Summary.Confidence
	}
	p.announce(ctx, e)
}

// Analyze requests cloud enrichment for the latest frame. force bypasses
// the cooldown and the empty-scene check, never the single-flight rule.
func (p *Pipeline) Analyze(force bool) (*enrich.Task, error) {
	if p.enrich == nil {
		return nil, ErrNoEnrichment
	}
	if p.isClosed() {
		return nil, ErrClosed
	}
	p.mu.RLock()
	img, frame := p.lastImage, p.lastFrame
	p.mu.RUnlock()
	return p.enrich.Request(img, frame, force)
}

// ReplayLast speaks a description of the most recent hazard announcement.
func (p *Pipeline) ReplayLast(ctx context.Context) (narration.Phrase, error) {
	phrase := p.narrator.NoReplay()
	if e, ok := p.latestHazard(); ok {
		phrase = p.narrator.Replay(e.Category, e.Distance, p.clock.Now().Sub(e.At))
	}
	if err := p.mediator.Speak(ctx, phrase.Text); err != nil {
		return phrase, err
	}
	return phrase, nil
}

func (p *Pipeline) latestHazard() (history.Entry, bool) {
	if p.recorder != nil {
		for _, e := range p.recorder.List() {
			if e.Kind == history.KindHazard {
				return e, true
			}
		}
		return history.Entry{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastEntry != nil && p.lastEntry.Kind == history.KindHazard {
		return *p.lastEntry, true
	}
	return history.Entry{}, false
}

// History returns the recorded announcements, newest first.
func (p *Pipeline) History() []history.Entry {
	if p.recorder == nil {
		return nil
	}
	return p.recorder.List()
}

// Run processes frames strictly in order until the channel closes, ctx
// ends or the pipeline is closed. Per-frame failures are logged.
func (p *Pipeline) Run(ctx context.Context, frames <-chan image.Image) error {
	if p.engine == nil {
		return ErrNoEngine
	}
	p.logger.Info("pipeline running", "engine", p.engine.Name(), "threshold", p.decoder.Threshold())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case img, ok := <-frames:
			if !ok {
				return nil
			}
			_, err := p.Process(ctx, img)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrClosed) || errors.Is(err, feedback.ErrClosed) || errors.Is(err, engine.ErrClosed) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("frame failed", "error", err)
		}
	}
}

// Reset clears alert, smoothing and cooldown state, as on a restart.
func (p *Pipeline) Reset() {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	if p.smoother != nil {
		p.smoother.Reset()
	}
	p.mediator.Arbiter().Reset()
	p.mediator.Reset()
	if p.enrich != nil {
		p.enrich.Reset()
	}

	p.mu.Lock()
	p.lastPrimary = nil
	p.sincePrimary = 0
	p.last = Outcome{}
	p.mu.Unlock()
	p.logger.Info("pipeline reset")
}

// Close tears down every collaborator. Outstanding cloud calls finish on
// their own and their results are discarded.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if p.enrich != nil {
		errs = append(errs, p.enrich.Close())
	}
	errs = append(errs, p.mediator.Close(), p.emitter.Close())
	if p.recorder != nil {
		errs = append(errs, p.recorder.Close())
	}
	if p.engine != nil {
		errs = append(errs, p.engine.Close())
	}
	return errors.Join(errs...)
}

func (p *Pipeline) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
