package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RPC methods on the hub ↔ plugin socket. Everything except channel.status
// is a notification (fire-and-forget).
const (
	MethodChannelRegister  = "channel.register"
	MethodChannelReceive   = "channel.receive"
	MethodChannelEvent     = "channel.event"
	MethodChannelSend      = "channel.send"
	MethodChannelConfigure = "channel.configure"
	MethodChannelStop      = "channel.stop"
	MethodChannelStatus    = "channel.status"
)

// Events emitted by channel plugins via channel.event.
const (
	EventGatewayConnected    = "gateway_connected"
	EventGatewayDisconnected = "gateway_disconnected"
	EventPairingRequest      = "pairing_request"
	EventPairingResponse     = "pairing_response"
)

// JSON-RPC 2.0 error codes used by the plugin protocol.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Envelope is a JSON-RPC 2.0 request, notification, or response.
// Notifications carry a method but no id; responses carry exactly one of
// result or error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// IsCall reports whether the envelope is a request or notification.
func (e *Envelope) IsCall() bool { return e.Method != "" }

// IsNotification reports whether the envelope is a call without an id.
func (e *Envelope) IsNotification() bool { return e.Method != "" && e.ID == nil }

// IDKey normalizes a JSON-RPC id (string or number) into a map key for
// pending-response matching.
func IDKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		// encoding/json decodes numeric ids as float64.
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseEnvelope decodes a raw frame from the plugin socket.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse rpc envelope: %w", err)
	}
	return &env, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc params: %w", err)
	}
	return data, nil
}

// NewNotification serializes a JSON-RPC notification frame.
func NewNotification(method string, params any) ([]byte, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{JSONRPC: "2.0", Method: method, Params: p})
}

// NewRequest serializes a JSON-RPC request frame and returns it together
// with the generated request id.
func NewRequest(method string, params any) ([]byte, string, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, "", err
	}
	id := uuid.NewString()
	data, err := json.Marshal(Envelope{JSONRPC: "2.0", Method: method, Params: p, ID: id})
	return data, id, err
}

// NewResult serializes a successful JSON-RPC response.
func NewResult(id any, result any) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc result: %w", err)
	}
	return json.Marshal(Envelope{JSONRPC: "2.0", Result: data, ID: id})
}

// NewError serializes a JSON-RPC error response.
func NewError(id any, code int, message string) ([]byte, error) {
	return json.Marshal(Envelope{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	})
}
