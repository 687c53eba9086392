// Package protocol defines the JSON-RPC 2.0 envelope spoken to the agent
// gateway over WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only supported JSON-RPC version string.
const Version = "2.0"

// Gateway methods.
const (
	MethodStatusGet      = "status.get"
	MethodMessageSend    = "message.send"
	MethodGatewayRestart = "gateway.restart"
	MethodFileWrite      = "file.write"
	MethodSubagentsKill  = "subagents.kill"
)

// Request is an outgoing call.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is a reply or a server notification. Notifications carry Method
// and no ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsNotification reports whether the message is server-initiated.
func (r *Response) IsNotification() bool {
	return r.ID == nil && r.Method != ""
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard error codes.
const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// StatusResult is the result of status.get, also carried by status
// notifications under params.status.
type StatusResult struct {
	Status StatusInfo `json:"status"`
}

// StatusInfo is the agent's self-reported state.
type StatusInfo struct {
	Model  string `json:"model"`
	State  string `json:"state,omitempty"`
	Uptime string `json:"uptime,omitempty"`
}

// MessageSendParams is the payload of message.send.
type MessageSendParams struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// FileWriteParams is the payload of file.write.
type FileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SubagentsKillParams is the payload of subagents.kill.
type SubagentsKillParams struct {
	Target string `json:"target"`
}
