package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/clock"
)

// DefaultBench is how long a failing voice is skipped.
const DefaultBench = 30 * time.Second

// ChainConfig holds chain settings.
type ChainConfig struct {
	// Bench is how long a provider is skipped after a rate limit, server
	// error or network failure. Rejected credentials disable it for good.
	Bench  time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// ProviderStats reports one voice of a chain.
type ProviderStats struct {
	Name     string `json:"name"`
	Served   int64  `json:"served"`
	Failed   int64  `json:"failed"`
	Benched  bool   `json:"benched"`
	Disabled bool   `json:"disabled"`
}

type link struct {
	provider Provider
	name     string
	until    time.Time
	disabled bool
	served   int64
	failed   int64
}

// Chain implements Provider by trying voices in order. Alerts are time
// critical, so a voice that just failed is skipped instead of being retried
// on every phrase.
type Chain struct {
	bench  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	links []*link
}

// NewChain creates a chain with default settings. At least one provider is
// required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithConfig(ChainConfig{}, providers...)
}

// NewChainWithLogger creates a chain logging to logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	return NewChainWithConfig(ChainConfig{Logger: logger}, providers...)
}

// NewChainWithConfig creates a chain from cfg.
func NewChainWithConfig(cfg ChainConfig, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if cfg.Bench <= 0 {
		cfg.Bench = DefaultBench
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Chain{
		bench:  cfg.Bench,
		clock:  clock.OrReal(cfg.Clock),
		logger: cfg.Logger.With("component", "tts.chain"),
	}
	for i, p := range providers {
		c.links = append(c.links, &link{provider: p, name: providerName(p, i)})
	}
	return c, nil
}

func providerName(p Provider, i int) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "provider-" + strconv.Itoa(i)
}

// candidates returns the voices to try now. When every voice is benched
// they are all tried anyway; a late alert beats a silent one.
func (c *Chain) candidates(now time.Time) []*link {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ready, benched []*link
	for _, l := range c.links {
		switch {
		case l.disabled:
		case now.Before(l.until):
			benched = append(benched, l)
		default:
			ready = append(ready, l)
		}
	}
	if len(ready) == 0 {
		return benched
	}
	return ready
}

// Synthesize tries each available voice until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	var errs []error
	for i, l := range c.candidates(c.clock.Now()) {
		result, err := l.provider.Synthesize(ctx, text)
		if err == nil {
			c.mu.Lock()
			l.served++
			l.until = time.Time{}
			c.mu.Unlock()
			if i > 0 {
				c.logger.Info("fallback voice used", "provider", l.name, "chars", len(text))
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		errs = append(errs, err)
		c.penalize(l, err)
	}
	if len(errs) == 0 {
		return nil, ErrProviderUnavailable
	}
	return nil, &ChainError{Errors: errs}
}

func (c *Chain) penalize(l *link, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.failed++
	if Permanent(err) {
		l.disabled = true
		c.logger.Error("voice disabled, credentials rejected", "provider", l.name, "error", err)
		return
	}
	l.until = c.clock.Now().Add(c.bench)
	c.logger.Warn("voice benched", "provider", l.name, "for", c.bench, "error", err)
}

// Stats reports every voice in order.
func (c *Chain) Stats() []ProviderStats {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ProviderStats, len(c.links))
	for i, l := range c.links {
		out[i] = ProviderStats{
			Name:     l.name,
			Served:   l.served,
			Failed:   l.failed,
			Benched:  now.Before(l.until),
			Disabled: l.disabled,
		}
	}
	return out
}

// Health succeeds when at least one enabled voice is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, l := range c.candidates(time.Time{}) {
		err := l.provider.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return ErrProviderUnavailable
	}
	return fmt.Errorf("tts chain: no healthy voice: %w", lastErr)
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, l := range c.links {
		if err := l.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChainError aggregates errors from every voice tried.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no errors recorded"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: %d voices failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the provider errors.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// Is matches ErrAllProvidersFailed.
func (e *ChainError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

var _ Provider = (*Chain)(nil)
