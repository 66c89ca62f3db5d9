package server

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// Codec marshals the plain request/response structs in types.go as JSON.
// connect.Codec is defined over any, not proto.Message, so a generated
// protobuf codec isn't required to use connect's Connect or gRPC-Web
// protocols -- only a matching Content-Type. Registering this under the
// name "json" overrides connect's built-in protojson codec, which would
// otherwise reject these non-proto.Message types. Clients dialing this
// service (nearbyctl, integration tests) must register the same Codec.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("server: marshal json: %w", err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("server: unmarshal json: %w", err)
	}
	return nil
}
