// Package mqtt publishes accessory connect events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	connectTimeout        = 10 * time.Second
)

// Config for the MQTT dispatcher.
type Config struct {
	Broker   string
	Topic    string
	Username string
	Password string
	Retain   bool
	// PublishTimeout bounds each publish; zero means DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Message is the JSON document published per connect event.
type Message struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	Kind            string    `json:"kind"`
	IconHint        string    `json:"icon_hint"`
	BatteryFraction float64   `json:"battery_fraction"`
	BatteryPercent  *int      `json:"battery_percent"`
	ConnectedAt     time.Time `json:"connected_at"`
}

type publishFunc func(topic string, retain bool, payload []byte) error

// Dispatcher implements ports.Dispatcher over MQTT.
type Dispatcher struct {
	topic   string
	retain  bool
	publish publishFunc
	close   func()
	logger  *slog.Logger
}

// Connect dials the broker and returns a dispatcher that publishes to
// <topic>/<normalized address>.
func Connect(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("accessoryd-" + uuid.NewString()[:8])
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	publish := func(topic string, retain bool, payload []byte) error {
		token := client.Publish(topic, 1, retain, payload)
		if !token.WaitTimeout(timeout) {
			return fmt.Errorf("publish %s: timed out", topic)
		}
		return token.Error()
	}
	d := newDispatcher(cfg, publish, logger)
	d.close = func() { client.Disconnect(250) }
	return d, nil
}

func newDispatcher(cfg Config, publish publishFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		topic:   strings.TrimSuffix(cfg.Topic, "/"),
		retain:  cfg.Retain,
		publish: publish,
		close:   func() {},
		logger:  logger.With("component", "mqtt"),
	}
}

// Topic returns the topic a device's events are published to.
func (d *Dispatcher) Topic(address string) string {
	return d.topic + "/" + identity.NormalizeAddress(address)
}

// OnAccessoryConnected publishes the event. Failures are logged, never returned.
func (d *Dispatcher) OnAccessoryConnected(_ context.Context, device domain.AccessoryDevice, batteryFraction float64, iconHint string) {
	msg := Message{
		ID:              device.ID,
		Name:            device.DisplayName,
		Address:         device.Address,
		Kind:            string(device.Kind),
		IconHint:        iconHint,
		BatteryFraction: batteryFraction,
		ConnectedAt:     device.ConnectedAt,
	}
	if device.Battery.Known {
		p := device.Battery.Percent
		msg.BatteryPercent = &p
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("mqtt marshal failed", "address", device.Address, "error", err)
		return
	}
	topic := d.Topic(device.Address)
	if err := d.publish(topic, d.retain, payload); err != nil {
		d.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	d.logger.Debug("mqtt event published", "topic", topic)
}

// Close disconnects from the broker.
func (d *Dispatcher) Close() {
	d.close()
}
