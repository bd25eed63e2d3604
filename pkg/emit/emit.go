// Package emit publishes alert events to external subscribers.
package emit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/history"
)

// Event is the wire form of one announcement.
type Event struct {
	ID         string       `json:"id"`
	TS         int64        `json:"ts"`
	Kind       history.Kind `json:"kind"`
	Category   string       `json:"category,omitempty"`
	Distance   float64      `json:"distance_m,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Phrase     string       `json:"phrase"`
}

// FromEntry converts a history entry. Clear entries carry no detection fields.
func FromEntry(e history.Entry) Event {
	ev := Event{
		ID:     e.ID,
		TS:     e.At.UnixMilli(),
		Kind:   e.Kind,
		Phrase: e.Phrase,
	}
	if e.Hazard() {
		ev.Category = e.Category.String()
		ev.Distance = e.Distance
		ev.Confidence = e.Confidence
	}
	return ev
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.TS)
}

// Marshal encodes an entry as an event payload.
func Marshal(e history.Entry) ([]byte, error) {
	return json.Marshal(FromEntry(e))
}

// Emitter publishes announcements. Publish must not block the caller on
// network I/O.
type Emitter interface {
	Publish(ctx context.Context, e history.Entry) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish discards e.
func (Nop) Publish(context.Context, history.Entry) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// Mock records published events.
type Mock struct {
	mu     sync.Mutex
	events []Event
	Err    error
	closed bool
}

// NewMock creates a recording emitter.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Publish(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, FromEntry(e))
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the published events.
func (m *Mock) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ Emitter = Nop{}
	_ Emitter = (*Mock)(nil)
	_ Emitter = (*MQTT)(nil)
)
