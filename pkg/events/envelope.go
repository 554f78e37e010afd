package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blang/semver/v4"
)

// Codec identifies how a payload's bytes are encoded.
type Codec int

const (
	// CodecNone marks a payload-less variant such as Shutdown
	CodecNone Codec = iota
	CodecJSON
	CodecBinary
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecJSON:
		return "json"
	case CodecBinary:
		return "binary"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// ErrNoProtocolVersion is returned by ProtocolVersion for envelopes that do not
// announce one.
var ErrNoProtocolVersion = errors.New("envelope does not carry a protocol version")

// Payload is the opaque body attached to an event variant. Callers interpret
// it; this package only tracks the codec.
type Payload struct {
	codec Codec
	data  []byte
}

// JSONPayload wraps a raw JSON document. The bytes are copied.
func JSONPayload(raw []byte) Payload {
	return Payload{codec: CodecJSON, data: bytes.Clone(raw)}
}

// BinaryPayload wraps raw bytes. The bytes are copied.
func BinaryPayload(raw []byte) Payload {
	return Payload{codec: CodecBinary, data: bytes.Clone(raw)}
}

func (p Payload) Codec() Codec { return p.codec }

// Bytes returns a copy of the payload bytes so handlers sharing an envelope
// cannot mutate each other's view.
func (p Payload) Bytes() []byte { return bytes.Clone(p.data) }

func (p Payload) IsEmpty() bool { return p.codec == CodecNone || len(p.data) == 0 }

// Unmarshal decodes a JSON payload into v.
func (p Payload) Unmarshal(v any) error {
	if p.codec != CodecJSON {
		return fmt.Errorf("cannot unmarshal %s payload as json", p.codec)
	}
	return json.Unmarshal(p.data, v)
}

func (p Payload) String() string {
	switch p.codec {
	case CodecJSON:
		return string(p.data)
	case CodecBinary:
		return base64.StdEncoding.EncodeToString(p.data)
	default:
		return ""
	}
}

// Envelope is one decoded application event: the variant name as it appeared
// on the wire and its payload. Envelopes are immutable once built.
type Envelope struct {
	name    string
	payload Payload
}

// NewEnvelope builds an envelope for the named variant.
func NewEnvelope(name string, payload Payload) Envelope {
	return Envelope{name: name, payload: payload}
}

// Name returns the variant name, including names this package does not classify.
func (e Envelope) Name() string { return e.name }

// Type is shorthand for Classify(e).
func (e Envelope) Type() EventType { return Classify(e) }

func (e Envelope) Payload() Payload { return e.payload }

// ProtocolVersion parses the version carried by an ApiVersion envelope.
func (e Envelope) ProtocolVersion() (semver.Version, error) {
	if Classify(e) != ApiVersion {
		return semver.Version{}, ErrNoProtocolVersion
	}
	var raw string
	if err := e.payload.Unmarshal(&raw); err != nil {
		return semver.Version{}, fmt.Errorf("api version payload: %w", err)
	}
	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, fmt.Errorf("api version payload: %w", err)
	}
	return v, nil
}

// MarshalJSON renders the envelope in its wire shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.payload.codec {
	case CodecNone:
		return json.Marshal(e.name)
	case CodecBinary:
		return json.Marshal(map[string]map[string]string{
			e.name: {"Binary": base64.StdEncoding.EncodeToString(e.payload.data)},
		})
	default:
		return json.Marshal(map[string]json.RawMessage{e.name: e.payload.data})
	}
}

func (e Envelope) String() string {
	if e.payload.IsEmpty() {
		return e.name
	}
	return fmt.Sprintf("%s(%s)", e.name, e.payload)
}
