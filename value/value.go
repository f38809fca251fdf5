// Package value implements the opaque TypedValue abstraction the bus
// passes between callers, handlers, and subscribers. It is intentionally
// thin: payload serialization format is a collaborator the bus core does
// not own (see spec.md §6), so Value only offers construction, a generic
// decode, and a byte-serialization escape hatch.
package value

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// Value wraps an arbitrary payload produced by From or FromBytes.
type Value struct {
	raw any
}

// From builds a Value around v.
func From(v any) Value {
	return Value{raw: v}
}

// FromBytes decodes JSON bytes into a Value.
func FromBytes(data []byte) (Value, error) {
	var raw any
	if len(data) == 0 {
		return Value{}, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	return Value{raw: raw}, nil
}

// Raw returns the underlying payload, whatever shape it was built with.
func (v Value) Raw() any { return v.raw }

// IsZero reports whether v carries no payload.
func (v Value) IsZero() bool { return v.raw == nil }

// Serialize renders v to its canonical JSON byte form.
func (v Value) Serialize() ([]byte, error) {
	if v.raw == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v.raw)
}

// As decodes v into T. If the stored payload is already assignable to T
// (the common in-process case, e.g. a handler returning a typed struct
// directly via From), it is returned as-is; otherwise it is decoded field
// by field via mapstructure, which tolerates the loosely-typed
// map[string]any produced by FromBytes/JSON round-trips.
func As[T any](v Value) (T, error) {
	var out T
	if v.raw == nil {
		return out, nil
	}
	if direct, ok := v.raw.(T); ok {
		return direct, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(v.raw); err != nil {
		return out, err
	}
	return out, nil
}
