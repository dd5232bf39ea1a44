package nodes

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarahq/clara/pkg/models"
)

var (
	// ErrNodeNotFound indicates no node is bound to the given handle or ID.
	ErrNodeNotFound = errors.New("node not found")
)

// RegistryConfig configures the node registry.
type RegistryConfig struct {
	// GraceWindow is how long a disconnected node keeps its session
	// binding so a reconnect with the same node ID resumes it.
	GraceWindow time.Duration
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		GraceWindow: 24 * time.Hour,
	}
}

// Registry is the concurrent-safe mapping of node IDs and transport
// handles to nodes.
type Registry struct {
	mu       sync.RWMutex
	config   RegistryConfig
	logger   *slog.Logger
	byID     map[string]*Node
	byHandle map[Conn]string
}

// NewRegistry creates a node registry.
func NewRegistry(config RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.GraceWindow <= 0 {
		config.GraceWindow = DefaultRegistryConfig().GraceWindow
	}
	return &Registry{
		config:   config,
		logger:   logger.With("component", "nodes.registry"),
		byID:     make(map[string]*Node),
		byHandle: make(map[Conn]string),
	}
}

// Register binds a connection to a node ID. If the node ID is already
// known, the previous handle is displaced and the existing session ID is
// preserved; otherwise a new session ID is minted. Returns the session ID
// and whether this was a reconnect.
func (r *Registry) Register(conn Conn, nodeID, platform string, capabilities []models.Capability, metadata map[string]string) (string, bool) {
	r.mu.Lock()

	var displaced Conn
	node, reconnect := r.byID[nodeID]
	if reconnect {
		if node.Conn != nil && node.Conn != conn {
			displaced = node.Conn
			delete(r.byHandle, node.Conn)
		}
		node.Conn = conn
		node.Platform = platform
		node.Capabilities = capabilities
		node.Metadata = metadata
		node.DisconnectedAt = time.Time{}
	} else {
		node = &Node{
			ID:           nodeID,
			SessionID:    uuid.NewString(),
			Platform:     platform,
			Capabilities: capabilities,
			Metadata:     metadata,
			Conn:         conn,
		}
		r.byID[nodeID] = node
	}
	node.LastPing = time.Now()
	r.byHandle[conn] = nodeID
	sessionID := node.SessionID
	r.mu.Unlock()

	if displaced != nil {
		_ = displaced.Close()
	}

	r.logger.Info("node registered",
		"node_id", nodeID,
		"platform", platform,
		"reconnect", reconnect,
	)
	return sessionID, reconnect
}

// UpdatePing refreshes the last-seen time for the node on this handle.
func (r *Registry) UpdatePing(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHandle[conn]; ok {
		if node, ok := r.byID[id]; ok {
			node.LastPing = time.Now()
		}
	}
}

// Unregister drops the handle binding if the handle still owns its node.
// The node entry itself stays discoverable by node ID for the grace
// window so a reconnect resumes the same session.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHandle[conn]
	if !ok {
		return
	}
	delete(r.byHandle, conn)

	node, ok := r.byID[id]
	if !ok || node.Conn != conn {
		// A reconnect already displaced this handle.
		return
	}
	node.Conn = nil
	node.DisconnectedAt = time.Now()
	r.logger.Debug("node disconnected", "node_id", id)
}

// GetByHandle returns the node bound to a connection.
func (r *Registry) GetByHandle(conn Conn) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHandle[conn]
	if !ok {
		return nil, ErrNodeNotFound
	}
	node, ok := r.byID[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// GetByID returns the node for a node ID, connected or not.
func (r *Registry) GetByID(nodeID string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.byID[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// GetByPlatform returns all connected nodes for a platform.
func (r *Registry) GetByPlatform(platform string) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Node
	for _, node := range r.byID {
		if node.Platform == platform && node.Conn != nil {
			out = append(out, node)
		}
	}
	return out
}

// BroadcastToPlatform sends a frame to every connected node on a platform.
// Send failures are logged and skipped.
func (r *Registry) BroadcastToPlatform(platform string, frame any) {
	for _, node := range r.GetByPlatform(platform) {
		if err := node.Conn.Send(frame); err != nil {
			r.logger.Warn("broadcast send failed",
				"node_id", node.ID,
				"platform", platform,
				"error", err,
			)
		}
	}
}

// ConnectedCount returns the number of nodes with live connections.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, node := range r.byID {
		if node.Conn != nil {
			n++
		}
	}
	return n
}

// Sweep deletes nodes whose disconnect exceeded the grace window.
// Returns the number removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.config.GraceWindow)
	removed := 0
	for id, node := range r.byID {
		if node.Conn == nil && !node.DisconnectedAt.IsZero() && node.DisconnectedAt.Before(cutoff) {
			delete(r.byID, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept idle nodes", "removed", removed)
	}
	return removed
}
