package grpc

import (
	"github.com/db2q/db2q/encoding"
	grpcencoding "google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype every db2q call is sent with
const CodecName = "msgpack"

// msgpackCodec carries the plain message structs of this package over gRPC
type msgpackCodec struct{}

func init() {
	grpcencoding.RegisterCodec(msgpackCodec{})
}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return encoding.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return encoding.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}
