// Package history keeps the most recent announcements in memory, newest
// first, and optionally journals them to SQLite.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/stairguard/pkg/detection"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 10

// Kind of announcement.
type Kind string

const (
	KindHazard   Kind = "hazard"
	KindClear    Kind = "clear"
	KindGuidance Kind = "guidance"
	KindFallback Kind = "fallback"
)

// Entry is one announcement.
type Entry struct {
	ID         string             `json:"id"`
	At         time.Time          `json:"ts"`
	Kind       Kind               `json:"kind"`
	Category   detection.Category `json:"category"`
	Distance   float64            `json:"distance_m"`
	Confidence float64            `json:"confidence"`
	Phrase     string             `json:"phrase"`
}

// Hazard reports whether the entry describes stairs.
func (e Entry) Hazard() bool {
	return e.Kind == KindHazard || e.Kind == KindGuidance || e.Kind == KindFallback
}

// Journal persists entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Ring is a fixed-capacity, thread-safe history.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry // oldest first
	cap     int
}

// NewRing creates a ring. Capacity below 1 uses DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{cap: capacity, entries: make([]Entry, 0, capacity)}
}

// Add inserts e, evicting the oldest entry when full. An empty ID is
// replaced with a fresh UUID.
func (r *Ring) Add(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.cap {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.cap-1]
	}
	r.entries = append(r.entries, e)
	return e
}

// List returns the entries newest first.
func (r *Ring) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[len(r.entries)-1-i] = e
	}
	return out
}

// LatestHazard returns the newest entry that describes stairs.
func (r *Ring) LatestHazard() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Hazard() {
			return r.entries[i], true
		}
	}
	return Entry{}, false
}

// Len returns the number of entries held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Cap returns the capacity.
func (r *Ring) Cap() int {
	return r.cap
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

// Recorder writes to a ring and, when configured, a journal. Journal
// failures are logged and never block the caller's flow.
type Recorder struct {
	*Ring
	journal Journal
	logger  *slog.Logger
}

// NewRecorder creates a recorder. journal may be nil.
func NewRecorder(capacity int, journal Journal, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		Ring:    NewRing(capacity),
		journal: journal,
		logger:  logger.With("component", "history.recorder"),
	}
}

// Record adds e to the ring and the journal.
func (r *Recorder) Record(ctx context.Context, e Entry) Entry {
	e = r.Ring.Add(e)
	if r.journal != nil {
		if err := r.journal.Record(ctx, e); err != nil {
			r.logger.Warn("journal write failed", "id", e.ID, "error", err)
		}
	}
	return e
}

// Journal returns the configured journal, or nil.
func (r *Recorder) Journal() Journal {
	return r.journal
}

// Close closes the journal.
func (r *Recorder) Close() error {
	if r.journal == nil {
		return nil
	}
	return r.journal.Close()
}
