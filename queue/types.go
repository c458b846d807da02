// Package queue implements queue operations over per-topic backend tables:
// push, count, next, long-poll wait-next, key streaming and the read/write gate.
package queue

import (
	"context"
	"time"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/storage"
)

// Record is one queue item
type Record = storage.Record

// NoPrevious asks Next and WaitNext for the first record
const NoPrevious int64 = -1

// PushRequest appends Value to the topic
type PushRequest struct {
	RequestID id.UUID
	Topic     id.UUID
	Value     []byte
}

// PopRequest asks to remove the head of the topic
type PopRequest struct {
	RequestID id.UUID
	Topic     id.UUID
}

// CountRequest asks for the number of records in the topic
type CountRequest struct {
	RequestID id.UUID
	Topic     id.UUID
}

// NextRequest asks for the record following Previous; negative Previous means the first record
type NextRequest struct {
	RequestID id.UUID
	Topic     id.UUID
	Previous  int64
}

// WaitNextRequest is NextRequest retried every Interval until a record appears or Timeout elapses.
// Zero Interval or Timeout selects the service default.
type WaitNextRequest struct {
	RequestID id.UUID
	Topic     id.UUID
	Previous  int64
	Interval  time.Duration
	Timeout   time.Duration
}

// KeysRequest asks for at most Limit keys in ascending order
type KeysRequest struct {
	RequestID id.UUID
	Topic     id.UUID
	Limit     uint64
}

// WaitNextItem is the single result of a wait-next session
type WaitNextItem struct {
	Record  Record
	Elapsed time.Duration
	Retried uint64
	Err     error
}

// KeyItem is one element of a key stream; an item with Err ends the stream
type KeyItem struct {
	Key int64
	Err error
}

// Operations is the queue service surface.
// Streaming calls return once the stream is started; the channel closes when it ends.
type Operations interface {
	PushBack(ctx context.Context, req PushRequest) (time.Time, error)
	PopFront(ctx context.Context, req PopRequest) error
	Count(ctx context.Context, req CountRequest) (uint64, error)
	Next(ctx context.Context, req NextRequest) (Record, error)
	WaitNext(ctx context.Context, req WaitNextRequest) (<-chan WaitNextItem, error)
	Keys(ctx context.Context, req KeysRequest) (<-chan KeyItem, error)
}

// Mirror receives accepted pushes for delivery elsewhere
type Mirror interface {
	Mirror(topic id.UUID, key int64, value []byte, at time.Time) error
}
