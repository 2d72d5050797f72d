package domain

import "context"

// EventBus decouples the booking pipeline from notification dispatch and
// cache invalidation. Go channels serve the community tier, NATS the pro
// tier. All methods are scoped by facility ID.
type EventBus interface {
	Publish(ctx context.Context, facilityID string, topic string, payload []byte) error
	Subscribe(ctx context.Context, facilityID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one event on the bus.
type Message struct {
	ID         string            `json:"id"`
	FacilityID string            `json:"facilityId"`
	Topic      string            `json:"topic"`
	Payload    []byte            `json:"payload"`
	Metadata   map[string]string `json:"metadata"`
	Timestamp  int64             `json:"timestamp"`
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (community tier)
	ChannelBufferSize int

	// NATS settings (pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics published by the booking pipeline.
const (
	TopicBookingCommitted = "courtyard.booking.committed"
	TopicBookingDenied    = "courtyard.booking.denied"
	TopicBookingCancelled = "courtyard.booking.cancelled"
	TopicStrikeIssued     = "courtyard.strike.issued"
	TopicConfigUpdated    = "courtyard.config.updated"
)
