package publisher

import (
	"github.com/db2q/db2q/id"
)

// PushEvent is one accepted push recorded in the publish log
type PushEvent struct {
	SeqNum   uint64  `msgpack:"seq"`   // Monotonic sequence assigned by the log
	Topic    id.UUID `msgpack:"topic"` // Topic the value was pushed to
	Key      int64   `msgpack:"key"`   // Backend-assigned record key
	Value    []byte  `msgpack:"val"`   // Pushed payload
	PushedAt int64   `msgpack:"ts"`    // Append completion time (unix ns)
	NodeID   uint64  `msgpack:"node"`  // Node that accepted the push
}

// Sink represents a destination for push events (e.g., Kafka, NATS, RabbitMQ, Redis)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts push events to sink-specific payloads
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event PushEvent) ([]byte, error)
	// ContentType names the payload encoding for sinks that carry one
	ContentType() string
}

// Filter determines whether a push event should be published
type Filter interface {
	// Match returns true if events of the topic should be published
	Match(topic id.UUID) bool
}
