package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// criticalWait bounds how long a critical broadcast waits for room in a
// backed-up hub.
const criticalWait = 100 * time.Millisecond

// ErrBackedUp is returned when a critical message could not be queued.
var ErrBackedUp = errors.New("hub: broadcast queue full")

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	onMessage atomic.Value // func(*Client, []byte)
	onChange  atomic.Value // func(int)

	done     chan struct{}
	doneOnce sync.Once
	running  atomic.Bool
	dropped  atomic.Int64
	skipped  atomic.Int64
}

// New creates a hub. A nil logger uses slog.Default().
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub."+name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnMessage sets the handler for messages received from any client.
func (h *Hub) OnMessage(fn func(c *Client, data []byte)) {
	h.onMessage.Store(fn)
}

// OnChange sets a callback invoked with the client count after every
// connect or disconnect.
func (h *Hub) OnChange(fn func(count int)) {
	h.onChange.Store(fn)
}

// Run is the hub's main loop. It returns when ctx ends, after closing
// every client queue.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.doneOnce.Do(func() { close(h.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "id", c.ID, "clients", count)
			h.changed(count)

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			if ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.logger.Info("client disconnected", "id", c.ID, "clients", count)
				h.changed(count)
			}

		case msg := <-h.broadcast:
			var evicted int
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					if !msg.Critical {
						h.skipped.Add(1)
						continue
					}
					close(c.send)
					delete(h.clients, c)
					evicted++
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			if evicted > 0 {
				h.logger.Warn("evicted clients that could not take a critical message", "evicted", evicted, "clients", count)
				h.changed(count)
			}
		}
	}
}

func (h *Hub) changed(count int) {
	if fn, ok := h.onChange.Load().(func(int)); ok && fn != nil {
		fn(count)
	}
}

func (h *Hub) inbound(c *Client, data []byte) {
	if fn, ok := h.onMessage.Load().(func(*Client, []byte)); ok && fn != nil {
		fn(c, data)
	}
}

// Broadcast queues msg for every connected client. Telemetry never blocks
// and is dropped when the hub is backed up; a critical message waits up to
// criticalWait first.
func (h *Hub) Broadcast(msg Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
	}
	if msg.Critical {
		timer := time.NewTimer(criticalWait)
		defer timer.Stop()
		select {
		case h.broadcast <- msg:
			return true
		case <-timer.C:
		case <-h.done:
		}
	}
	h.dropped.Add(1)
	h.logger.Warn("broadcast channel full, dropping message", "critical", msg.Critical)
	return false
}

// BroadcastJSON encodes v and broadcasts it as telemetry.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastCritical encodes v and broadcasts it as a critical message.
func (h *Hub) BroadcastCritical(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !h.Broadcast(NewCriticalMessage(data)) {
		return ErrBackedUp
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were discarded before fan-out.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Skipped returns how many telemetry deliveries were skipped for slow
// clients.
func (h *Hub) Skipped() int64 {
	return h.skipped.Load()
}

// IsRunning returns whether the hub loop is running.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats describes a hub and its clients.
type Stats struct {
	Name    string       `json:"name"`
	Running bool         `json:"running"`
	Dropped int64        `json:"dropped"`
	Skipped int64        `json:"skipped"`
	Clients []ClientInfo `json:"clients"`
}

// Stats snapshots the hub.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	clients := make([]ClientInfo, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c.Info())
	}
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Connected.Before(clients[j].Connected)
	})
	return Stats{
		Name:    h.name,
		Running: h.IsRunning(),
		Dropped: h.Dropped(),
		Skipped: h.Skipped(),
		Clients: clients,
	}
}
