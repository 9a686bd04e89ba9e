package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecName is the Connect codec name; requests carry
// Content-Type application/cbor.
const CodecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Codec carries the debug service messages as canonical CBOR. Pass it to
// clients with connect.WithCodec.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(msg any) ([]byte, error) {
	return cborEncMode.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("server: unmarshal %T: %w", msg, err)
	}
	return nil
}
