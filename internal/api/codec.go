// Package api defines the lockwatch.v1.Registry gRPC service: message types,
// the CBOR message codec, the service descriptor and a typed client.
package api

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/ppiankov/lockwatch/internal/codec"
)

// CodecName is the gRPC content subtype of the message codec.
const CodecName = "cbor"

// Codec marshals gRPC messages as CBOR.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
