package grpc

import (
	"time"

	"github.com/db2q/db2q/id"
)

// Wire messages of db2q.proto.queue.v1. Ids are pointers so a missing id
// is distinguishable from the zero id.

type CreateTopicRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
}

type CreateTopicResponse struct {
	Created time.Time `msgpack:"created"`
}

type DropTopicRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
}

type DropTopicResponse struct {
	Dropped time.Time `msgpack:"dropped"`
}

type ListTopicsRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
}

type ListTopicsResponse struct {
	Topics []id.UUID `msgpack:"topics"`
}

type PushBackRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
	Value     []byte   `msgpack:"value"`
}

type PushBackResponse struct {
	PushedAt time.Time `msgpack:"pushed_at"`
}

type PopFrontRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
}

type PopFrontResponse struct{}

type CountRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
}

type CountResponse struct {
	Count uint64 `msgpack:"count"`
}

// NextRequest asks for the record after Previous; negative Previous asks for the first record
type NextRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
	Previous  int64    `msgpack:"previous"`
}

type NextResponse struct {
	Key   int64  `msgpack:"key"`
	Value []byte `msgpack:"value"`
}

// WaitNextRequest is a NextRequest polled every Interval until Timeout.
// Nil durations select the server defaults.
type WaitNextRequest struct {
	RequestID *id.UUID       `msgpack:"request_id"`
	TopicID   *id.UUID       `msgpack:"topic_id"`
	Previous  int64          `msgpack:"previous"`
	Interval  *time.Duration `msgpack:"interval"`
	Timeout   *time.Duration `msgpack:"timeout"`
}

type WaitNextResponse struct {
	Key     int64         `msgpack:"key"`
	Value   []byte        `msgpack:"value"`
	Elapsed time.Duration `msgpack:"elapsed"`
	Retried uint64        `msgpack:"retried"`
}

type KeysRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
	MaxKeys   uint64   `msgpack:"max_keys"`
}

type KeysResponse struct {
	Key int64 `msgpack:"key"`
}

type ExactCountRequest struct {
	RequestID *id.UUID `msgpack:"request_id"`
	TopicID   *id.UUID `msgpack:"topic_id"`
}

type ExactCountResponse struct {
	Count uint64 `msgpack:"count"`
}

func (r *CreateTopicRequest) GetRequestID() *id.UUID { return r.RequestID }
func (r *DropTopicRequest) GetRequestID() *id.UUID   { return r.RequestID }
func (r *ListTopicsRequest) GetRequestID() *id.UUID  { return r.RequestID }
func (r *PushBackRequest) GetRequestID() *id.UUID    { return r.RequestID }
func (r *PopFrontRequest) GetRequestID() *id.UUID    { return r.RequestID }
func (r *CountRequest) GetRequestID() *id.UUID       { return r.RequestID }
func (r *NextRequest) GetRequestID() *id.UUID        { return r.RequestID }
func (r *WaitNextRequest) GetRequestID() *id.UUID    { return r.RequestID }
func (r *KeysRequest) GetRequestID() *id.UUID        { return r.RequestID }
func (r *ExactCountRequest) GetRequestID() *id.UUID  { return r.RequestID }

// Ptr returns a pointer to v, for the optional request fields
func Ptr[T any](v T) *T {
	return &v
}
