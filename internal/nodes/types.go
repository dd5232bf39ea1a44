// Package nodes tracks connected adapter processes.
//
// A node is one adapter instance (Discord bot, CLI, voice bridge) connected
// over the gateway transport. Nodes choose a stable node ID; the registry
// assigns a session ID on first registration and hands the same session ID
// back on every reconnect of that node ID, so adapters can resume without
// losing server-side state. The binding from node ID to session ID survives
// a disconnect for a grace window before it is forgotten.
package nodes

import (
	"time"

	"github.com/clarahq/clara/pkg/models"
)

// Conn is the transport handle the gateway hands to the registry. The
// registry never reads from it; it only sends frames and closes displaced
// connections.
type Conn interface {
	// Send marshals and writes one frame to the adapter.
	Send(v any) error

	// Close tears the connection down.
	Close() error
}

// Node is a connected (or recently connected) adapter.
type Node struct {
	// ID is the adapter-chosen stable identifier.
	ID string `json:"id"`

	// SessionID is server-assigned and preserved across reconnects.
	SessionID string `json:"session_id"`

	// Platform is the adapter's platform tag ("discord", "cli", ...).
	Platform string `json:"platform"`

	// Capabilities the adapter declared at registration.
	Capabilities []models.Capability `json:"capabilities"`

	// Metadata is additional adapter information.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Conn is the live transport handle, nil while disconnected.
	Conn Conn `json:"-"`

	// LastPing is the last keepalive seen from this node.
	LastPing time.Time `json:"last_ping"`

	// DisconnectedAt is set while the node has no live connection.
	DisconnectedAt time.Time `json:"disconnected_at,omitzero"`
}

// HasCapability reports whether the node declared the capability.
func (n *Node) HasCapability(cap models.Capability) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Connected reports whether the node has a live transport handle.
func (n *Node) Connected() bool {
	return n.Conn != nil
}
