package emit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/stairguard/pkg/history"
)

// DefaultTopic is used when MQTTConfig.Topic is empty.
const DefaultTopic = "stairguard/alerts"

var ErrNotConnected = errors.New("emit: mqtt not connected")

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker         string // host:port or full URL
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// publisher is the subset of mqtt.Client used here.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTStats reports publisher counters.
type MQTTStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// MQTT publishes events to a broker without waiting on delivery.
type MQTT struct {
	cfg    MQTTConfig
	client publisher
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTT creates an unconnected publisher.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stairguard"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: logger.With("component", "emit.mqtt")}
}

func brokerURL(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

// Connect dials the broker. Reconnection afterwards is automatic.
func (e *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connected", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, reconnecting", "error", err)
	}

	client := mqtt.NewClient(opts)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("emit: mqtt connect to %s timed out", e.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emit: mqtt connect: %w", err)
	}
	e.setConnected(true)
	return nil
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

// Publish encodes e and hands it to the client. Delivery errors are
// counted asynchronously.
func (e *MQTT) Publish(_ context.Context, entry history.Entry) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()
	if client == nil || !connected {
		e.errors.Add(1)
		return ErrNotConnected
	}

	payload, err := Marshal(entry)
	if err != nil {
		e.errors.Add(1)
		return fmt.Errorf("emit: encode event: %w", err)
	}

	token := client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			e.errors.Add(1)
			e.logger.Warn("mqtt publish failed", "topic", e.cfg.Topic, "error", err)
			return
		}
		e.published.Add(1)
	}()

	e.logger.Debug("event published", "topic", e.cfg.Topic, "kind", entry.Kind, "size", len(payload))
	return nil
}

// Stats returns counters.
func (e *MQTT) Stats() MQTTStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return MQTTStats{
		Connected: e.connected,
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
	}
}

// Close disconnects with a short grace period.
func (e *MQTT) Close() error {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	return nil
}
