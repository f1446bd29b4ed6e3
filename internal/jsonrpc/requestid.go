package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be a string, a number or null.
//
// Numbers are kept as their literal json.Number text so that an id is echoed
// back byte-for-byte: an integer stays an integer and large values do not
// lose precision through float64.
type RequestID struct {
	value any // nil | string | json.Number
}

// NewRequestID creates a RequestID from a string or number. Any other value
// yields a null id.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case json.Number:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: json.Number(strconv.FormatInt(int64(v), 10))}
	case int32:
		return &RequestID{value: json.Number(strconv.FormatInt(int64(v), 10))}
	case int64:
		return &RequestID{value: json.Number(strconv.FormatInt(v, 10))}
	case uint64:
		return &RequestID{value: json.Number(strconv.FormatUint(v, 10))}
	case float64:
		return &RequestID{value: json.Number(strconv.FormatFloat(v, 'g', -1, 64))}
	default:
		return &RequestID{}
	}
}

// ParseRequestID decodes a raw id field. Values that are neither a string nor
// a number (null, booleans, objects, arrays) produce a null id rather than an
// error so that error envelopes can still be addressed.
func ParseRequestID(raw json.RawMessage) *RequestID {
	id := &RequestID{}
	_ = id.UnmarshalJSON(raw)
	return id
}

// String returns the string representation of the ID.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Value returns the underlying value: nil, a string or a json.Number.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is absent or null.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// MarshalJSON implements json.Marshaler. A null id marshals as JSON null.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	id.value = nil

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid JSON-RPC ID: %w", err)
	}

	switch v := v.(type) {
	case string:
		id.value = v
	case json.Number:
		id.value = v
	default:
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	return nil
}
