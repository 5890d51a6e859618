// Package scanner connects the gateway to the scanner fleet's MQTT broker and
// turns advertisement publishes into handler callbacks.
package scanner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"beaconrelay/gateway/internal/model"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	advertisementTopic = "scanners/+/advertisements"
	controlTopic       = "scanners/control"

	disconnectQuiesceMillis = 250
)

// Handler receives one advertisement per detection.
type Handler func(model.Advertisement)

// Config tunes the MQTT source.
type Config struct {
	BrokerURL string
	ClientID  string
	// Interval and Window are forwarded to the fleet as a retained control
	// message; the scanners decide how to apply them to their radios.
	Interval time.Duration
	Window   time.Duration
}

// Source subscribes to the fleet's advertisement topic and feeds each decoded
// event to the registered handler. Decode failures are logged and dropped,
// never fatal: a misbehaving scanner must not take the gateway down.
type Source struct {
	cfg     Config
	logger  *slog.Logger
	handler atomic.Value // Handler
	client  mqtt.Client
}

// New constructs a source with a no-op handler installed.
func New(cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{cfg: cfg, logger: logger}
	s.handler.Store(Handler(func(model.Advertisement) {}))
	return s
}

// SetHandler installs the function invoked for each received advertisement.
func (s *Source) SetHandler(h Handler) {
	if h == nil {
		h = func(model.Advertisement) {}
	}
	s.handler.Store(h)
}

// Start connects, announces the requested scan cadence to the fleet, and
// subscribes for advertisements.
func (s *Source) Start() error {
	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("beaconrelay-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	if err := s.publishControl(client, "start"); err != nil {
		client.Disconnect(disconnectQuiesceMillis)
		return err
	}

	if token := client.Subscribe(advertisementTopic, 0, s.onMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(disconnectQuiesceMillis)
		return fmt.Errorf("subscribe %s: %w", advertisementTopic, token.Error())
	}

	s.client = client
	s.logger.Info("scanner source started",
		"broker", s.cfg.BrokerURL,
		"client_id", clientID,
		"scan_interval", s.cfg.Interval,
		"scan_window", s.cfg.Window,
	)
	return nil
}

// Stop tells the fleet to stop scanning and disconnects. Awaited during
// shutdown so no new events arrive while the buffer flushes.
func (s *Source) Stop() {
	if s.client == nil {
		return
	}

	if err := s.publishControl(s.client, "stop"); err != nil {
		s.logger.Warn("scan stop publish failed", "error", err)
	}
	if token := s.client.Unsubscribe(advertisementTopic); token.Wait() && token.Error() != nil {
		s.logger.Warn("unsubscribe failed", "error", token.Error())
	}
	s.client.Disconnect(disconnectQuiesceMillis)
	s.client = nil
	s.logger.Info("scanner source stopped")
}

func (s *Source) publishControl(client mqtt.Client, command string) error {
	payload, err := json.Marshal(struct {
		Command    string `json:"command"`
		IntervalMS int64  `json:"interval_ms"`
		WindowMS   int64  `json:"window_ms"`
	}{
		Command:    command,
		IntervalMS: s.cfg.Interval.Milliseconds(),
		WindowMS:   s.cfg.Window.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encode scan control: %w", err)
	}

	token := client.Publish(controlTopic, 0, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish scan control: %w", token.Error())
	}
	return nil
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var adv model.Advertisement
	if err := json.Unmarshal(msg.Payload(), &adv); err != nil {
		s.logger.Warn("advertisement decode failed", "topic", msg.Topic(), "error", err)
		return
	}

	if adv.SourceID == "" {
		adv.SourceID = scannerFromTopic(msg.Topic())
	}
	if adv.Payload == nil {
		adv.Payload = json.RawMessage(msg.Payload())
	}

	if h, ok := s.handler.Load().(Handler); ok {
		h(adv)
	}
}

// scannerFromTopic extracts the scanner segment of "scanners/<id>/advertisements".
func scannerFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
