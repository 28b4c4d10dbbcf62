package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotObject          = errors.New("protocol: message is not a json object")
	ErrMissingDestination = errors.New("protocol: message has no usable dst")
)

// Envelope is a parsed application frame. Only the routing fields are
// decoded; all other fields are kept as raw JSON and re-emitted as-is.
type Envelope struct {
	Type MessageType
	Dst  string

	fields map[string]json.RawMessage
}

// ParseEnvelope decodes an application frame. The frame must be a JSON
// object with a non-empty string `dst`.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	rawDst, ok := fields[FieldDestination]
	if !ok {
		return nil, ErrMissingDestination
	}
	var dst string
	if err := json.Unmarshal(rawDst, &dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingDestination, err)
	}
	if dst == "" {
		return nil, ErrMissingDestination
	}

	env := &Envelope{Dst: dst, fields: fields}
	if rawType, ok := fields[FieldType]; ok {
		var t string
		if json.Unmarshal(rawType, &t) == nil {
			env.Type = MessageType(t)
		}
	}
	return env, nil
}

// Payload returns the raw `payload` field, or nil when absent.
func (e *Envelope) Payload() json.RawMessage {
	return e.fields[FieldPayload]
}

// Stamp sets `src` to source, replacing whatever the client sent, and
// returns the re-encoded frame.
func (e *Envelope) Stamp(source string) ([]byte, error) {
	rawSrc, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	e.fields[FieldSource] = rawSrc
	return json.Marshal(e.fields)
}
