package domain

import (
	"context"
	"time"
)

// EventBus is the alert/audit sink boundary. Publishing is fire-and-forget:
// it must never block the admission or settlement path.
// Supports Go channels (single process) or NATS (shared deployments).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"natsToken" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the payout pipeline.
const (
	TopicAlert         = "kestrel.alert"
	TopicPayoutSettled = "kestrel.payout.settled"
	TopicPayoutFailed  = "kestrel.payout.failed"
)

// AlertType classifies alert events.
type AlertType string

const (
	AlertRiskRejected  AlertType = "risk_rejected"
	AlertPayoutHeld    AlertType = "payout_held"
	AlertAmountReduced AlertType = "amount_reduced"
	AlertPayoutFailed  AlertType = "payout_failed"
	AlertEntityBlocked AlertType = "entity_blocked"
)

// AlertSeverity grades alert events.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a typed event emitted for every reject, hold, reduction, block
// and terminal settlement failure.
type Alert struct {
	ID        string        `json:"id"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	PayoutID  string        `json:"payoutId,omitempty"`
	Entities  []EntityKey   `json:"entities,omitempty"`
	Reason    string        `json:"reason"`
	Score     float64       `json:"score,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}
