package protocol

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only JSON-RPC version spoken on the wire.
const JSONRPCVersion = "2.0"

// ErrorPayload defines the structure for the 'error' object within a JSON-RPC
// error response.
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONRPCRequest represents a standard JSON-RPC request object.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`          // MUST be "2.0"
	ID      interface{} `json:"id"`               // Request ID (string, number, or null)
	Method  string      `json:"method"`           // Method name (e.g., "node.invoke")
	Params  interface{} `json:"params,omitempty"` // Parameters (struct or array)
}

// JSONRPCResponse represents a standard JSON-RPC response object.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// JSONRPCNotification represents a standard JSON-RPC notification object.
// Notifications MUST NOT have an 'id' field.
type JSONRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Message is used for the first pass over an inbound frame to tell responses
// from notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// IsNotification reports whether the message carries a method and no id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// NewRequest creates a new JSON-RPC request object.
func NewRequest(id interface{}, method string, params interface{}) *JSONRPCRequest {
	return &JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewNotification creates a new JSON-RPC notification object.
func NewNotification(method string, params interface{}) *JSONRPCNotification {
	return &JSONRPCNotification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// NewSuccessResponse creates a new JSON-RPC success response object.
func NewSuccessResponse(id interface{}, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates a new JSON-RPC error response object.
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id, // Can be null if error occurred before ID parsing
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// UnmarshalPayload unmarshals a params or result field, which may arrive as
// raw JSON or as an already decoded value, into target.
func UnmarshalPayload(payload interface{}, target interface{}) error {
	if payload == nil {
		return fmt.Errorf("payload is nil, cannot unmarshal")
	}

	var payloadBytes []byte
	switch p := payload.(type) {
	case json.RawMessage:
		payloadBytes = p
	case []byte:
		payloadBytes = p
	default:
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to re-marshal payload (type %T): %w", payload, err)
		}
	}

	if len(payloadBytes) == 0 || string(payloadBytes) == "null" {
		return fmt.Errorf("payload is nil or empty after re-marshalling")
	}
	if err := json.Unmarshal(payloadBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal payload into target type %T: %w", target, err)
	}
	return nil
}
