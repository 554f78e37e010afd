package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodingError reports a message whose data could not be turned into an
// envelope. Data holds the offending bytes.
type DecodingError struct {
	Data []byte
	Err  error
}

func (e *DecodingError) Error() string {
	const max = 128
	data := e.Data
	if len(data) > max {
		data = data[:max]
	}
	return fmt.Sprintf("decoding event %q: %v", data, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

var (
	errEmptyMessage = errors.New("empty message")
	errNotSingleKey = errors.New("expected exactly one variant key")
	errEmptyVariant = errors.New("empty variant name")
)

// Decode parses the data field of one stream message. The outer shape is
// either {"<Variant>": <payload>} or the bare string "<Variant>" for variants
// without a payload. Inside the object, {"Json": v} and {"Binary": "<base64>"}
// select the payload codec explicitly; any other value is a JSON payload.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Envelope{}, &DecodingError{Data: data, Err: errEmptyMessage}
	}

	if trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return Envelope{}, &DecodingError{Data: data, Err: err}
		}
		if name == "" {
			return Envelope{}, &DecodingError{Data: data, Err: errEmptyVariant}
		}
		return NewEnvelope(name, Payload{}), nil
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &outer); err != nil {
		return Envelope{}, &DecodingError{Data: data, Err: err}
	}
	if len(outer) != 1 {
		return Envelope{}, &DecodingError{Data: data, Err: errNotSingleKey}
	}

	var name string
	var raw json.RawMessage
	for k, v := range outer {
		name, raw = k, v
	}
	if name == "" {
		return Envelope{}, &DecodingError{Data: data, Err: errEmptyVariant}
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return Envelope{}, &DecodingError{Data: data, Err: err}
	}
	return NewEnvelope(name, payload), nil
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Payload{}, nil
	}
	if raw[0] != '{' {
		return JSONPayload(raw), nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return Payload{}, err
	}
	if len(tagged) != 1 {
		return JSONPayload(raw), nil
	}
	if inner, ok := tagged["Json"]; ok {
		return JSONPayload(inner), nil
	}
	if inner, ok := tagged["Binary"]; ok {
		if b, ok := binaryBytes(inner); ok {
			return BinaryPayload(b), nil
		}
	}
	return JSONPayload(raw), nil
}

// binaryBytes accepts "<base64>" or [1, 2, 3].
func binaryBytes(inner json.RawMessage) ([]byte, bool) {
	inner = bytes.TrimSpace(inner)
	if len(inner) == 0 {
		return nil, false
	}
	switch inner[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(inner, &encoded); err != nil {
			return nil, false
		}
		b, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, false
		}
		return b, true
	case '[':
		var values []uint8
		if err := json.Unmarshal(inner, &values); err != nil {
			return nil, false
		}
		if values == nil {
			values = []uint8{}
		}
		return values, true
	default:
		return nil, false
	}
}
