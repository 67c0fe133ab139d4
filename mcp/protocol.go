package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the tool-server protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

// Message is a JSON-RPC 2.0 envelope.
type Message struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   *RPCError      `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// ToolDefinition describes a tool exposed by an agent's tool server.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the required fields of a tool definition.
func (t *ToolDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.InputSchema == nil {
		return fmt.Errorf("tool input schema is required")
	}
	return nil
}

// ToolResult is the payload returned by a tool invocation.
type ToolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

// ServerInfo is what the tool server reports during the handshake.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
}

// MarshalJSON always stamps the JSON-RPC version.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal(&struct {
		JSONRPC string `json:"jsonrpc"`
		*alias
	}{
		JSONRPC: "2.0",
		alias:   (*alias)(m),
	})
}

// NewRequest builds a JSON-RPC request.
func NewRequest(id any, method string, params map[string]any) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewResponse builds a JSON-RPC success response.
func NewResponse(id any, result any) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds a JSON-RPC error response.
func NewErrorResponse(id any, code int, message string, data any) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}
