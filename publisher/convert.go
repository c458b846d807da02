package publisher

import (
	"time"

	"github.com/db2q/db2q/id"
)

// NewPushEvent builds the log record for one accepted push.
// SeqNum is assigned by PublishLog.Append.
func NewPushEvent(topic id.UUID, key int64, value []byte, at time.Time, nodeID uint64) PushEvent {
	return PushEvent{
		Topic:    topic,
		Key:      key,
		Value:    value,
		PushedAt: at.UnixNano(),
		NodeID:   nodeID,
	}
}

// PushTime returns the append completion time of the event
func (e PushEvent) PushTime() time.Time {
	return time.Unix(0, e.PushedAt)
}
