// Package notify publishes mdcore's outbound cross-process events —
// Notification, ProviderStatusChanged, and DerivedMetric (spec.md §6) — onto
// NATS via watermill's NATS binding, so external consumers (a UI gateway, an
// ops dashboard) can subscribe without coupling to mdcore's in-process
// internal/bus fan-out, which is reserved for OrderBookUpdated/TradePublished
// (spec.md §1 "many in-process consumers").
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ProviderStatus mirrors the connector lifecycle's externally visible status
// (spec.md §6 "ProviderStatusChanged").
type ProviderStatus string

const (
	StatusConnecting          ProviderStatus = "CONNECTING"
	StatusConnected           ProviderStatus = "CONNECTED"
	StatusDisconnected        ProviderStatus = "DISCONNECTED"
	StatusDisconnectedFailed  ProviderStatus = "DISCONNECTED_FAILED"
)

// NotificationLevel tags a Notification's severity.
type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelWarn  NotificationLevel = "warn"
	LevelError NotificationLevel = "error"
)

// Notification is a free-form operator/UI message (spec.md §6 "Notification").
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Category  string            `json:"category"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
}

// ProviderStatusChanged reports a connector's externally visible status
// transition (spec.md §6).
type ProviderStatusChanged struct {
	Provider  string         `json:"provider"`
	Symbol    string         `json:"symbol"`
	Status    ProviderStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// DerivedMetric is one published value from the C9 derivation engine
// (spec.md §6 "DerivedMetric(tag, value, timestamp)").
type DerivedMetric struct {
	Tag       string    `json:"tag"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	topicNotification = "mdcore.notification"
	topicProviderStatus = "mdcore.provider_status"
	topicDerivedMetric  = "mdcore.derived_metric"
)

// Config configures the NATS connection a Publisher uses.
type Config struct {
	URL string // default nats.DefaultURL
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = natsgo.DefaultURL
	}
}

// Publisher publishes mdcore's outbound events onto NATS via watermill.
type Publisher struct {
	pub    message.Publisher
	logger *zap.Logger
}

// NewPublisher dials NATS and wraps it in a watermill publisher, following
// the same nats.Option construction (name, timeout, reconnect handlers) the
// teacher's NatsEventBus uses.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := watermill.NewStdLogger(false, false)

	marshaler := &nats.NATSMarshaler{}
	pub, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:         cfg.URL,
			NatsOptions: []natsgo.Option{
				natsgo.Name("mdcore-notify"),
				natsgo.Timeout(5 * time.Second),
				natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
					logger.Info("notify: reconnected to nats", zap.String("url", nc.ConnectedUrl()))
				}),
				natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
					logger.Warn("notify: disconnected from nats", zap.Error(err))
				}),
			},
			Marshaler: marshaler,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect: %w", err)
	}

	return &Publisher{pub: pub, logger: logger}, nil
}

// Close releases the underlying NATS connection.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.pub.Publish(topic, msg); err != nil {
		p.logger.Warn("notify: publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}

// Notify publishes a Notification.
func (p *Publisher) Notify(_ context.Context, n Notification) error {
	return p.publish(topicNotification, n)
}

// ProviderStatusChanged publishes a connector status transition.
func (p *Publisher) ProviderStatusChanged(_ context.Context, e ProviderStatusChanged) error {
	return p.publish(topicProviderStatus, e)
}

// DerivedMetric publishes one derivation-engine metric sample.
func (p *Publisher) DerivedMetric(_ context.Context, m DerivedMetric) error {
	return p.publish(topicDerivedMetric, m)
}
