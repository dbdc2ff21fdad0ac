package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// WebSocket subprotocols advertised by the server. The negotiated
// subprotocol selects the codec for the whole connection.
const (
	SubprotocolJSON = "taskstream.v1.json"
	SubprotocolCBOR = "taskstream.v1.cbor"
)

// Codec encodes and decodes envelopes.
type Codec interface {
	// Name is the codec's short name ("json" or "cbor").
	Name() string
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON encodes envelopes as JSON text.
var JSON Codec = jsonCodec{}

// CBOR encodes envelopes with CBOR Core Deterministic Encoding.
var CBOR Codec = newCBORCodec()

// Subprotocols lists the subprotocols in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolCBOR}
}

// CodecForSubprotocol maps a negotiated subprotocol to a codec. Unknown or
// empty subprotocols fall back to JSON.
func CodecForSubprotocol(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return CBOR
	}
	return JSON
}

// CodecByName returns the codec called name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// SubprotocolFor returns the subprotocol that selects c.
func SubprotocolFor(c Codec) string {
	if c.Name() == "cbor" {
		return SubprotocolCBOR
	}
	return SubprotocolJSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	// Event and pong timestamps keep sub-second precision.
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string                         { return "cbor" }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// DecodeRequest decodes and validates a client frame.
func DecodeRequest(c Codec, data []byte) (*Request, error) {
	var req Request
	if err := c.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode %s request: %w", c.Name(), err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeResponse decodes a server frame.
func DecodeResponse(c Codec, data []byte) (*Response, error) {
	var resp Response
	if err := c.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.Name(), err)
	}
	return &resp, nil
}
