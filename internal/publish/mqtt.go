// Package publish mirrors session events to an MQTT broker.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresmejia3/proctor/internal/events"
)

// ErrNotConnected is returned by Append before Connect succeeds or after Close.
var ErrNotConnected = errors.New("mqtt not connected")

// Options configure a Publisher.
type Options struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Encoding       Encoding
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	SessionID      string
	Logger         *slog.Logger
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher is an events.Sink that publishes each event to
// <prefix>/<session>/events/<type>.
type Publisher struct {
	opts   Options
	logger *slog.Logger
	client client

	mu        sync.RWMutex
	seq       uint64
	connected bool
	published map[string]uint64
	errors    uint64
}

// NewPublisher validates the options. Call Connect before the session starts.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if opts.SessionID == "" {
		return nil, errors.New("mqtt publisher needs a session id")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", opts.QoS)
	}
	enc, err := ParseEncoding(string(opts.Encoding))
	if err != nil {
		return nil, err
	}
	opts.Encoding = enc
	if opts.ClientID == "" {
		opts.ClientID = "proctor-" + opts.SessionID
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		opts:      opts,
		logger:    logger.With("broker", opts.Broker),
		published: make(map[string]uint64),
	}, nil
}

// Topic builds the topic an event of type t is published on.
func Topic(prefix, sessionID string, t events.Type) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/events/%s", sessionID, t)
	}
	return fmt.Sprintf("%s/%s/events/%s", prefix, sessionID, t)
}

// Connect establishes the broker connection.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.opts.Broker)
	opts.SetClientID(p.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connection established", "client_id", p.opts.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	return p.connect(ctx, mqtt.NewClient(opts))
}

func (p *Publisher) connect(ctx context.Context, c client) error {
	p.client = c
	p.logger.Info("connecting to mqtt broker")

	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.opts.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout after %s", p.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Append implements events.Sink.
func (p *Publisher) Append(e events.Event) error {
	p.mu.Lock()
	if !p.connected || p.client == nil {
		p.errors++
		p.mu.Unlock()
		return ErrNotConnected
	}
	seq := p.seq
	p.seq++
	p.mu.Unlock()

	topic := Topic(p.opts.TopicPrefix, p.opts.SessionID, e.Type)
	payload, err := Encode(p.opts.Encoding, Envelope{
		SessionID: p.opts.SessionID,
		Seq:       seq,
		Time:      e.Time,
		Type:      e.Type,
		Message:   e.Message,
	})
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := p.client.Publish(topic, p.opts.QoS, false, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		p.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.logger.Debug("event published", "topic", topic, "qos", p.opts.QoS, "size", len(payload))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a snapshot of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Connected: p.connected, Published: published, Errors: p.errors}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
