package mcp

import (
	"context"
	"encoding/json"
)

// Transport carries JSON-RPC traffic to one plugin server.
type Transport interface {
	// Connect establishes the connection (spawns the process for stdio).
	Connect(ctx context.Context) error

	// Close tears down the connection.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

func newTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return newHTTPTransport(cfg)
	}
	return newStdioTransport(cfg)
}
