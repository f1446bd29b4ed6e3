package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// ErrNotObject is returned when a payload is valid JSON but not a JSON object
// (arrays, including batches, and scalars).
var ErrNotObject = errors.New("jsonrpc: payload is not a JSON object")

// Kind is the classification of an inbound JSON-RPC payload.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is a decoded inbound JSON-RPC payload. Field presence is tracked
// separately from field values: `"id": null` is a present id whose value is
// null.
type Message struct {
	JSONRPCVersion string
	Method         string
	Params         json.RawMessage
	Result         json.RawMessage
	Error          json.RawMessage
	ID             *RequestID

	HasMethod bool
	HasID     bool
}

// Kind classifies the message: request when it has both a method and an id,
// notification when it has a method only, response when it carries a result
// or an error without a method, invalid otherwise.
func (m *Message) Kind() Kind {
	switch {
	case m.HasMethod && m.HasID:
		return KindRequest
	case m.HasMethod:
		return KindNotification
	case m.Result != nil || m.Error != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// Decode parses a single JSON-RPC payload. It returns ErrNotObject for
// payloads that are valid JSON but not objects, and a wrapped syntax error
// for anything that is not JSON at all. Field values of the wrong JSON type
// (a numeric method, a boolean id) do not fail decoding; they surface as an
// empty method or a null id so the dispatcher can answer with an envelope.
func Decode(raw []byte) (*Message, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("jsonrpc: invalid JSON")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrNotObject
	}

	m := &Message{}
	if v, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &m.JSONRPCVersion)
	}
	if v, ok := fields["method"]; ok {
		m.HasMethod = true
		_ = json.Unmarshal(v, &m.Method)
	}
	if v, ok := fields["params"]; ok {
		m.Params = v
	}
	if v, ok := fields["result"]; ok {
		m.Result = v
	}
	if v, ok := fields["error"]; ok {
		m.Error = v
	}
	if v, ok := fields["id"]; ok {
		m.HasID = true
		m.ID = ParseRequestID(v)
	}

	return m, nil
}

// Classify decodes raw and reports its Kind. Non-object payloads return
// KindInvalid together with ErrNotObject.
func Classify(raw []byte) (Kind, error) {
	m, err := Decode(raw)
	if err != nil {
		return KindInvalid, err
	}
	return m.Kind(), nil
}

// Notification is an outbound JSON-RPC notification.
type Notification struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// NewNotification builds a notification with params marshaled from v.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		n.Params = b
	}
	return n, nil
}

// Response represents a JSON-RPC response. The id is always serialized, as
// null when absent.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
