package publisher

import (
	"encoding/json"
	"time"

	"github.com/db2q/db2q/encoding"
)

// Payload formats accepted in sink configuration
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// jsonEnvelope is the JSON shape of a published push
type jsonEnvelope struct {
	Seq      uint64    `json:"seq"`
	Topic    string    `json:"topic"`
	Key      int64     `json:"key"`
	Value    []byte    `json:"value"` // base64 in JSON
	PushedAt time.Time `json:"pushed_at"`
	NodeID   uint64    `json:"node_id"`
}

// JSONTransformer publishes events as JSON objects
type JSONTransformer struct{}

func (JSONTransformer) Transform(event PushEvent) ([]byte, error) {
	return json.Marshal(jsonEnvelope{
		Seq:      event.SeqNum,
		Topic:    event.Topic.String(),
		Key:      event.Key,
		Value:    event.Value,
		PushedAt: event.PushTime().UTC(),
		NodeID:   event.NodeID,
	})
}

func (JSONTransformer) ContentType() string { return "application/json" }

// MsgpackTransformer publishes events in their log encoding
type MsgpackTransformer struct{}

func (MsgpackTransformer) Transform(event PushEvent) ([]byte, error) {
	return encoding.Marshal(&event)
}

func (MsgpackTransformer) ContentType() string { return "application/msgpack" }
