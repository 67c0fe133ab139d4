// Package mcp implements the client side of the tool-server protocol:
// JSON-RPC 2.0 messages over a WebSocket transport, with per-client
// tool scoping.
package mcp
