// Package mcp implements the tool-host side of the Model Context Protocol
// over line-delimited JSON-RPC 2.0 on subprocess stdio pipes.
//
// A [Client] owns exactly one child tool process: it spawns it, performs the
// initialize handshake, correlates requests with responses under a fixed
// timeout, and tears the process down gracefully. A [Registry] manages a set
// of named clients and aggregates their tool catalogues into one addressable
// namespace keyed "{server}_{tool}".
package mcp

import "encoding/json"

// jsonRPCVersion is the protocol version stamped on every message.
const jsonRPCVersion = "2.0"

// request is a JSON-RPC 2.0 request. Requests carry a non-zero ID and expect
// exactly one response line.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is a JSON-RPC 2.0 notification: no ID, no response expected.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

// ServerConfig describes how to spawn one tool server process.
type ServerConfig struct {
	// Name is the unique identifier for this server within a [Registry].
	Name string

	// Command is the executable to spawn.
	Command string

	// Args are the command arguments.
	Args []string

	// Env holds environment variables overlaid on the inherited process
	// environment. May be nil.
	Env map[string]string
}

// ToolDescriptor describes one tool exposed by a server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// initializeResult is the result payload of the initialize handshake.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      serverInfo      `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Result is the uniform outcome envelope for a tool execution. Success is
// false for every failure origin, whether a transport error, a request
// timeout, or an application-level JSON-RPC error, so callers never need to
// care where a failure came from.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Server  string          `json:"server,omitempty"`
	Tool    string          `json:"tool,omitempty"`
}

// Status reports one server's liveness and tool catalogue.
type Status struct {
	Server    string   `json:"server"`
	Connected bool     `json:"connected"`
	ToolCount int      `json:"tool_count"`
	Tools     []string `json:"tools"`
}

// AggregateTool is one entry of the cross-server tool catalogue.
type AggregateTool struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
