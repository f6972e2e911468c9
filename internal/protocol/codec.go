package protocol

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Negotiated WebSocket subprotocols.
const (
	SubprotocolJSON = "tablesync.json.v1"
	SubprotocolCBOR = "tablesync.cbor.v1"
)

// Subprotocols lists the supported subprotocols in server preference order.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// Codec encodes frames for one subprotocol.
type Codec interface {
	// Name returns the subprotocol name.
	Name() string
	// Binary reports whether frames are sent as binary messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForSubprotocol returns the codec for a negotiated subprotocol. An empty
// or unknown name selects JSON.
func ForSubprotocol(name string) Codec {
	if strings.EqualFold(name, SubprotocolCBOR) {
		return CBOR
	}
	return JSON
}

var (
	// JSON is the text codec.
	JSON Codec = jsonCodec{}

	// CBOR is the binary codec.
	CBOR Codec = newCBORCodec()
)

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return SubprotocolJSON }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	opts := cbor.CoreDetEncOptions()
	// Presence timestamps need sub-second precision.
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	// State bags decode into map[string]any as they do from JSON.
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string                         { return SubprotocolCBOR }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
