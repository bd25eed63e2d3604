package emit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/history"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool { return true }

func (t *doneToken) WaitTimeout(time.Duration) bool { return true }

func (t *doneToken) Done() <-chan struct{} { return t.done }

func (t *doneToken) Error() error { return t.err }

type fakeClient struct {
	mu           sync.Mutex
	topics       []string
	payloads     [][]byte
	err          error
	disconnected bool
}

func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return newDoneToken(f.err)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func hazardEntry() history.Entry {
	return history.Entry{
		ID:         "a1",
		At:         time.UnixMilli(1700000000000),
		Kind:       history.KindHazard,
		Category:   detection.Ascending,
		Distance:   1.5,
		Confidence: 0.9,
		Phrase:     "Caution! Stairs going up close ahead.",
	}
}

func TestFromEntry(t *testing.T) {
	ev := FromEntry(hazardEntry())
	if ev.Category != "ascending" || ev.Distance != 1.5 || ev.TS != 1700000000000 {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Time().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("Time() = %v", ev.Time())
	}

	ce := FromEntry(history.Entry{ID: "c1", Kind: history.KindClear, Phrase: "Path clear."})
	if ce.Category != "" || ce.Distance != 0 {
		t.Errorf("clear event carries detection fields: %+v", ce)
	}
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(hazardEntry())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"id", "ts", "kind", "category", "distance_m", "confidence", "phrase"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if m["kind"] != "hazard" {
		t.Errorf("kind = %v", m["kind"])
	}
}

func TestMQTTPublish(t *testing.T) {
	fc := &fakeClient{}
	e := NewMQTT(MQTTConfig{Broker: "localhost:1883"})
	e.client = fc
	e.connected = true

	if err := e.Publish(context.Background(), hazardEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for e.Stats().Published != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := e.Stats().Published; got != 1 {
		t.Fatalf("published = %d, want 1", got)
	}

	fc.mu.Lock()
	topic := fc.topics[0]
	var ev Event
	err := json.Unmarshal(fc.payloads[0], &ev)
	fc.mu.Unlock()
	if topic != DefaultTopic {
		t.Errorf("topic = %q", topic)
	}
	if err != nil || ev.ID != "a1" || ev.Phrase == "" {
		t.Errorf("payload = %+v, err = %v", ev, err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fc.disconnected {
		t.Error("client not disconnected")
	}
}

func TestMQTTPublishErrors(t *testing.T) {
	e := NewMQTT(MQTTConfig{Broker: "localhost:1883"})
	if err := e.Publish(context.Background(), hazardEntry()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	fc := &fakeClient{err: errors.New("broker gone")}
	e.client = fc
	e.connected = true
	if err := e.Publish(context.Background(), hazardEntry()); err != nil {
		t.Fatalf("Publish returned delivery error synchronously: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for e.Stats().Errors != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := e.Stats().Errors; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"localhost:1883", "tcp://localhost:1883"},
		{"ssl://broker:8883", "ssl://broker:8883"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.in); got != tt.want {
			t.Errorf("brokerURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMock(t *testing.T) {
	m := NewMock()
	_ = m.Publish(context.Background(), hazardEntry())
	if len(m.Events()) != 1 {
		t.Fatalf("events = %d", len(m.Events()))
	}
	m.Err = errors.New("down")
	if err := m.Publish(context.Background(), hazardEntry()); err == nil {
		t.Error("expected error")
	}
	_ = m.Close()
	if !m.Closed() {
		t.Error("not closed")
	}
	if err := (Nop{}).Publish(context.Background(), hazardEntry()); err != nil {
		t.Error(err)
	}
}
