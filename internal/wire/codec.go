package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC codec alternative to protobuf. The four
// services in this package exchange frames that are themselves
// variant-tagged envelopes (see envelope.go) rather than fixed-layout
// protobuf messages, so a length-prefixed JSON codec carries them over the
// same HTTP/2 framing gRPC already provides. Servers select it with
// grpc.ForceServerCodec and clients with grpc.ForceCodec; see
// internal/gatewaysvc for where those options are set.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal %T: %w", v, err)
	}
	return nil
}

// ServerCodecOption forces every RPC handled by a gRPC server to use this
// package's JSON codec in place of protobuf.
func ServerCodecOption() grpc.ServerOption {
	return grpc.ForceServerCodec(encoding.GetCodec(codecName))
}

// ClientCodecOption is the grpc.DialOption analogue of ServerCodecOption,
// for a client dialing one of this package's services (gatewayctl's
// diagnostic commands, integration tests).
func ClientCodecOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(encoding.GetCodec(codecName)))
}
