package domain

import (
	"context"
	"time"
)

// EventBus publishes committed mutations to interested consumers. Supports
// Go channels (single process) or NATS (distributed).
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
	Type string `yaml:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Lifecycle topics published after the primary-source commit.
const (
	TopicEntityCreated  = "mediary.entity.created"
	TopicEntityUpdated  = "mediary.entity.updated"
	TopicEntityDeleted  = "mediary.entity.deleted"
	TopicEntityRestored = "mediary.entity.restored"
	TopicEntitySynced   = "mediary.entity.synced"
)

// MutationEvent is the payload published on lifecycle topics.
type MutationEvent struct {
	EntityType string        `json:"entityType"`
	Identity   string        `json:"identity"`
	Operation  OperationKind `json:"operation"`
	OccurredAt time.Time     `json:"occurredAt"`
}
