package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName selects this codec via the "grpc-encoding"/content-subtype
// negotiated per call; a client dialing with grpc.CallContentSubtype("json")
// gets JSON frames instead of protobuf wire format. The spec's wire shapes
// (proto/marketdata) are plain structs, not generated protobuf messages, so
// the default proto codec cannot serialize them — a custom codec is the
// grpc-go-documented way to swap the wire format without vendoring protoc.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
