package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

var errConnClosed = errors.New("conn closed")

type fakeConn struct {
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d, ok := <-f.reads:
		if !ok {
			return 0, nil, errConnClosed
		}
		return websocket.TextMessage, d, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	if mt == websocket.TextMessage {
		f.mu.Lock()
		f.writes = append(f.writes, data)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeConn) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.writes[len(f.writes)-1])
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	eventually(t, "hub running", h.IsRunning)
	t.Cleanup(cancel)
	return h, cancel
}

func TestBroadcastReachesClients(t *testing.T) {
	h, _ := startHub(t)

	a, b := newFakeConn(), newFakeConn()
	go NewClient(h, a, "a").Run()
	go NewClient(h, b, "b").Run()
	eventually(t, "two clients", func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]string{"type": "speak"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "delivery", func() bool { return a.written() == 1 && b.written() == 1 })
	if got := a.last(); got != `{"type":"speak"}` {
		t.Errorf("client a got %s", got)
	}
}

func TestInboundAndDisconnect(t *testing.T) {
	h, _ := startHub(t)

	var mu sync.Mutex
	var counts []int
	var got []string
	h.OnChange(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})
	h.OnMessage(func(c *Client, data []byte) {
		mu.Lock()
		got = append(got, c.ID+":"+string(data))
		mu.Unlock()
	})

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		NewClient(h, conn, "phone").Run()
		close(done)
	}()
	eventually(t, "client", func() bool { return h.ClientCount() == 1 })

	conn.reads <- []byte(`{"type":"status"}`)
	eventually(t, "inbound", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	close(conn.reads)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client Run did not return")
	}
	eventually(t, "disconnect callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != `phone:{"type":"status"}` {
		t.Errorf("inbound = %v", got)
	}
	if counts[0] != 1 || counts[1] != 0 {
		t.Errorf("OnChange counts = %v, want [1 0]", counts)
	}
}

func TestSlowClientSkipsTelemetry(t *testing.T) {
	h, _ := startHub(t)

	// Registered but never pumped, so its queue fills up.
	NewClient(h, newFakeConn(), "slow")
	eventually(t, "client", func() bool { return h.ClientCount() == 1 })

	for i := 0; i < sendBuffer+5; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	eventually(t, "skips", func() bool { return h.Skipped() == 5 })
	if h.ClientCount() != 1 {
		t.Error("telemetry must not evict a slow client")
	}
}

func TestSlowClientEvictedOnCritical(t *testing.T) {
	h, _ := startHub(t)

	NewClient(h, newFakeConn(), "slow")
	eventually(t, "client", func() bool { return h.ClientCount() == 1 })

	for i := 0; i < sendBuffer; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	if err := h.BroadcastCritical(map[string]string{"type": "speak"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "eviction", func() bool { return h.ClientCount() == 0 })
}

func TestStoppedHubDoesNotBlock(t *testing.T) {
	h, cancel := startHub(t)
	cancel()
	eventually(t, "hub stopped", func() bool { return !h.IsRunning() })

	done := make(chan struct{})
	go func() {
		NewClient(h, newFakeConn(), "late").Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client on stopped hub blocked")
	}
}

func TestStats(t *testing.T) {
	h, _ := startHub(t)

	conn := newFakeConn()
	go NewClient(h, conn, "phone").Run()
	eventually(t, "client", func() bool { return h.ClientCount() == 1 })

	if err := h.BroadcastCritical(map[string]string{"type": "vibrate"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "sent counted", func() bool {
		s := h.Stats()
		return len(s.Clients) == 1 && s.Clients[0].Sent == 1
	})

	s := h.Stats()
	if s.Name != "test" || !s.Running {
		t.Errorf("stats = %+v", s)
	}
	if s.Clients[0].ID != "phone" || s.Clients[0].Connected.IsZero() {
		t.Errorf("client = %+v", s.Clients[0])
	}
}
