// Package protocol defines the wire-level message model for capwire:
// JSON-RPC 2.0 envelopes, the newline-delimited framing codec, and the
// capability descriptor types shared by client and server.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"

	// Version is the capwire protocol version exchanged during the
	// initialize handshake. Client and server must match exactly.
	Version = "1.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Capwire-specific error codes carried in error responses.
const (
	// HandshakeFailed indicates the initialize exchange was rejected
	HandshakeFailed ErrorCode = -32000
	// VersionMismatch indicates incompatible protocol versions
	VersionMismatch ErrorCode = -32001
	// CapabilityNotFound indicates the named capability is not registered
	CapabilityNotFound ErrorCode = -32200
	// DuplicateCapability indicates a kind+name collision at registration
	DuplicateCapability ErrorCode = -32201
	// Cancelled indicates the call was cancelled before resolution
	Cancelled ErrorCode = -32300
	// CallTimeout indicates the call exceeded its wait deadline
	CallTimeout ErrorCode = -32301
	// SessionClosed indicates the session was torn down
	SessionClosed ErrorCode = -32302
	// TransportClosed indicates the byte channel failed or the peer exited
	TransportClosed ErrorCode = -32500
)

// Framing errors. DecodeMessage wraps these so callers can test with
// errors.Is.
var (
	// ErrMalformedFrame is returned when a frame is not valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownMessageShape is returned when a decoded object carries
	// neither a method nor a result nor an error field.
	ErrUnknownMessageShape = errors.New("unknown message shape")
)

// Message is the tagged union of Request, Response and Notification.
type Message interface {
	message()
}

// JSONRPCMessage carries the version tag common to all envelopes.
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Request) message() {}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (*Response) message() {}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	var resultJSON json.RawMessage
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) (*Response, error) {
	var dataJSON interface{}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
		dataJSON = json.RawMessage(dataBytes)
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Notification) message() {}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface so a wire error can travel up
// the client call stack unchanged.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// EncodeMessage serializes a message into a single frame payload
// (without the trailing delimiter). It never fails for messages built
// through the New* constructors.
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	// encoding/json escapes control characters inside strings, so a raw
	// newline here means the payload was hand-built incorrectly.
	if bytes.ContainsRune(data, '\n') {
		return nil, fmt.Errorf("message contains embedded frame delimiter")
	}
	return data, nil
}

// DecodeMessage classifies and decodes one frame payload into a
// Request, Response or Notification.
//
// Invalid JSON yields ErrMalformedFrame. A valid JSON object carrying
// neither a method nor a result nor an error field yields
// ErrUnknownMessageShape.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	hasID := len(probe.ID) > 0 && !bytes.Equal(probe.ID, []byte("null"))
	hasResult := len(probe.Result) > 0
	hasError := len(probe.Error) > 0 && !bytes.Equal(probe.Error, []byte("null"))

	switch {
	case hasResult || hasError:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &resp, nil
	case probe.Method != "" && hasID:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &req, nil
	case probe.Method != "":
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &notif, nil
	default:
		return nil, fmt.Errorf("%w: no method, result or error field", ErrUnknownMessageShape)
	}
}
