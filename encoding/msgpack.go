// Package encoding provides centralized msgpack serialization for db2q.
// The gRPC codec and the publish log both go through this package.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderState struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		s := &encoderState{}
		s.enc = msgpack.NewEncoder(&s.buf)
		s.enc.UseCompactInts(true)
		return s
	},
}

// Marshal encodes a value to msgpack format.
// The returned slice is owned by the caller.
func Marshal(v interface{}) ([]byte, error) {
	s := encoderPool.Get().(*encoderState)
	defer func() {
		s.buf.Reset()
		encoderPool.Put(s)
	}()

	if err := s.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v.
// Unknown fields are skipped so older clients can talk to newer servers.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields(false)
	return dec.Decode(v)
}
