package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/tts"
)

// RetryAfter is how long a speaker stays unavailable after a failed
// synthesis before it is tried again.
const RetryAfter = 5 * time.Second

// AudioSink plays synthesized audio. Play blocks until playback ends or
// Stop is called.
type AudioSink interface {
	Play(ctx context.Context, audio *tts.AudioResult) error
	Stop() error
	Available() bool
}

type utterance struct {
	text string
}

// TTSSpeaker implements Speaker with server-side synthesis. A single worker
// owns one active utterance; at most one more waits behind it.
type TTSSpeaker struct {
	provider tts.Provider
	sink     AudioSink
	logger   *slog.Logger

	mu        sync.Mutex
	pending   *utterance
	cancel    context.CancelFunc // of the active utterance
	failedAt  time.Time
	closed    bool
	onFailure func(text string, err error)
	wake     chan struct{}
	done     chan struct{}
	finished chan struct{}
}

// NewTTSSpeaker starts a speaker worker.
func NewTTSSpeaker(provider tts.Provider, sink AudioSink, logger *slog.Logger) *TTSSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TTSSpeaker{
		provider: provider,
		sink:     sink,
		logger:   logger.With("component", "feedback.speaker"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.loop()
	return s
}

// OnFailure registers fn to be called from the worker when an accepted
// utterance could not be synthesized or played. Interrupted utterances are
// not reported.
func (s *TTSSpeaker) OnFailure(fn func(text string, err error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Speak queues text. flush interrupts the active utterance.
func (s *TTSSpeaker) Speak(ctx context.Context, text string, flush bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = &utterance{text: text}
	if flush {
		s.interruptLocked()
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// interruptLocked stops the active utterance. s.mu must be held.
func (s *TTSSpeaker) interruptLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		if s.sink != nil {
			_ = s.sink.Stop()
		}
	}
}

// Cancel drops the queued utterance and stops the active one.
func (s *TTSSpeaker) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.interruptLocked()
	return nil
}

// Available reports whether the provider and sink can currently speak. A
// failed synthesis marks the speaker unavailable for RetryAfter.
func (s *TTSSpeaker) Available() bool {
	if s.provider == nil || s.sink == nil {
		return false
	}
	s.mu.Lock()
	ok := !s.closed && (s.failedAt.IsZero() || time.Since(s.failedAt) >= RetryAfter)
	s.mu.Unlock()
	return ok && s.sink.Available()
}

// Close stops the worker and waits for it to exit.
func (s *TTSSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.finished
		return nil
	}
	s.closed = true
	s.pending = nil
	s.interruptLocked()
	s.mu.Unlock()

	close(s.done)
	<-s.finished
	return nil
}

func (s *TTSSpeaker) loop() {
	defer close(s.finished)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			u := s.pending
			s.pending = nil
			if u == nil || s.closed {
				s.mu.Unlock()
				break
			}
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.mu.Unlock()

			s.play(ctx, u)

			s.mu.Lock()
			if ctx.Err() == nil {
				s.cancel = nil
			}
			s.mu.Unlock()
			cancel()
		}
	}
}

func (s *TTSSpeaker) play(ctx context.Context, u *utterance) {
	if s.provider == nil || s.sink == nil {
		return
	}
	audio, err := s.provider.Synthesize(ctx, u.text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.setFailed(time.Now())
		s.logger.Warn("synthesis failed", "error", err)
		s.lost(u, err)
		return
	}
	s.setFailed(time.Time{})

	if err := s.sink.Play(ctx, audio); err != nil && ctx.Err() == nil {
		s.logger.Warn("playback failed", "error", err)
		s.lost(u, err)
	}
}

func (s *TTSSpeaker) lost(u *utterance, err error) {
	s.mu.Lock()
	fn := s.onFailure
	s.mu.Unlock()
	if fn != nil {
		fn(u.text, err)
	}
}

func (s *TTSSpeaker) setFailed(t time.Time) {
	s.mu.Lock()
	s.failedAt = t
	s.mu.Unlock()
}

var _ Speaker = (*TTSSpeaker)(nil)
