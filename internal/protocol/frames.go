package protocol

import "encoding/json"

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by a display to invoke a method on the gateway.
type RequestFrame struct {
	Type   string          `json:"type"` // always "req"
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers exactly one RequestFrame.
type ResponseFrame struct {
	Type    string      `json:"type"` // always "res"
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is pushed without a preceding request.
type EventFrame struct {
	Type    string `json:"type"` // always "event"
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Frame is the union used when decoding an inbound message of unknown type.
// Payload and Params are left raw for a second decode once the method or
// event is known.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// NewRequest builds a request frame, encoding params.
func NewRequest(id, method string, params any) (*RequestFrame, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// Decode parses any inbound frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecodeParams unmarshals the request params into v. Empty params leave v untouched.
func (f *Frame) DecodeParams(v any) error {
	if len(f.Params) == 0 {
		return nil
	}
	return json.Unmarshal(f.Params, v)
}

// DecodePayload unmarshals the response or event payload into v.
func (f *Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
