// Package hub fans websocket messages out to connected clients from a
// single loop. Telemetry is lossy per client; critical messages are not.
package hub

// Message is one outbound text frame.
//
// A non-critical message (per-frame status) is skipped for a client whose
// queue is full. A critical message (announcements, device commands) that
// cannot be queued evicts the client, since it would otherwise miss a
// warning silently.
type Message struct {
	Data     []byte
	Critical bool
}

// NewJSONMessage wraps pre-encoded telemetry.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// NewCriticalMessage wraps a pre-encoded JSON message that must reach
// every client or disconnect it.
func NewCriticalMessage(data []byte) Message {
	return Message{Data: data, Critical: true}
}
