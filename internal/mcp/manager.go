package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// reconnectBackoff is the pause before the single transparent
// reconnect attempt when a call hits a disconnected server.
const reconnectBackoff = 500 * time.Millisecond

// Manager supervises every installed plugin server.
//
// Each server moves through stopped → starting → running and back via
// stopping, or drops to error and then stopped. Enabled/disabled is an
// orthogonal flag: a disabled server stays installed but is never
// started and its tools are hidden.
type Manager struct {
	catalog *Catalog
	logger  *slog.Logger

	mu      sync.RWMutex
	servers map[string]*serverHandle

	// onChange fires whenever the visible tool set changes, so the
	// persona capability inventory can be regenerated.
	onChange func()
}

type serverHandle struct {
	entry  *CatalogEntry
	client *Client
	state  ServerState
}

// NewManager creates a manager over a catalog directory.
func NewManager(catalog *Catalog, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		catalog: catalog,
		logger:  logger.With("component", "mcp"),
		servers: make(map[string]*serverHandle),
	}
}

// OnToolsChanged registers a callback invoked after install, uninstall,
// enable/disable, and restart.
func (m *Manager) OnToolsChanged(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) notifyChange() {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Start loads the catalog and connects every enabled auto-start server.
// Individual failures are logged; the gateway still comes up.
func (m *Manager) Start(ctx context.Context) error {
	entries, err := m.catalog.LoadAll()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	for _, entry := range entries {
		m.mu.Lock()
		m.servers[entry.Config.Name] = &serverHandle{entry: entry, state: StateStopped}
		m.mu.Unlock()

		if !entry.Enabled || !entry.Config.AutoStart {
			continue
		}
		if err := m.startServer(ctx, entry.Config.Name); err != nil {
			m.logger.Error("failed to start plugin server",
				"server", entry.Config.Name,
				"error", err)
		}
	}
	return nil
}

// Stop disconnects every running server.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, handle := range m.servers {
		if handle.client == nil {
			continue
		}
		handle.state = StateStopping
		if err := handle.client.Close(); err != nil {
			m.logger.Error("failed to close plugin server",
				"server", name,
				"error", err)
		}
		handle.client = nil
		handle.state = StateStopped
	}
	return nil
}

// startServer transitions one server through starting to running.
// Caller must not hold m.mu.
func (m *Manager) startServer(ctx context.Context, name string) error {
	m.mu.Lock()
	handle, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("server %q not installed", name)
	}
	if !handle.entry.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("server %q is disabled", name)
	}
	if handle.state == StateRunning || handle.state == StateStarting {
		m.mu.Unlock()
		return nil
	}
	handle.state = StateStarting
	cfg := handle.entry.Config
	m.mu.Unlock()

	client := NewClient(&cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		handle.state = StateError
		m.persistStateLocked(handle)
		handle.state = StateStopped
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	handle.client = client
	handle.state = StateRunning
	handle.entry.Tools = client.Tools()
	m.persistStateLocked(handle)
	m.mu.Unlock()

	m.logger.Info("plugin server running",
		"server", name,
		"tools", len(client.Tools()))
	return nil
}

// stopServer transitions one server through stopping to stopped.
func (m *Manager) stopServer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.servers[name]
	if !ok {
		return fmt.Errorf("server %q not installed", name)
	}
	if handle.client == nil {
		handle.state = StateStopped
		return nil
	}

	handle.state = StateStopping
	err := handle.client.Close()
	handle.client = nil
	handle.state = StateStopped
	m.persistStateLocked(handle)
	return err
}

func (m *Manager) persistStateLocked(handle *serverHandle) {
	handle.entry.Status = handle.state
	if err := m.catalog.Save(handle.entry); err != nil {
		m.logger.Warn("failed to persist catalog entry",
			"server", handle.entry.Config.Name,
			"error", err)
	}
}

// Install registers a new server from a source string and starts it.
// HTTP(S) sources become remote servers; anything else is treated as a
// package run through npx on stdio.
func (m *Manager) Install(ctx context.Context, source, name, requestedBy string, env map[string]string) (*CatalogEntry, error) {
	cfg := configFromSource(source, name, env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.servers[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("server %q already installed", cfg.Name)
	}
	entry := &CatalogEntry{
		Config:      *cfg,
		Enabled:     true,
		Status:      StateStopped,
		RequestedBy: requestedBy,
	}
	m.servers[cfg.Name] = &serverHandle{entry: entry, state: StateStopped}
	m.mu.Unlock()

	if err := m.catalog.Save(entry); err != nil {
		return nil, err
	}

	if err := m.startServer(ctx, cfg.Name); err != nil {
		// Leave it installed but stopped so the user can fix and restart.
		m.logger.Warn("installed server failed to start",
			"server", cfg.Name,
			"error", err)
	}

	m.notifyChange()
	return entry, nil
}

// configFromSource derives a server config from an install source.
func configFromSource(source, name string, env map[string]string) *ServerConfig {
	cfg := &ServerConfig{Source: source, Env: env, AutoStart: true}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		cfg.Transport = TransportHTTP
		cfg.URL = source
	} else {
		cfg.Transport = TransportStdio
		cfg.Command = "npx"
		cfg.Args = []string{"-y", source}
	}

	cfg.Name = name
	if cfg.Name == "" {
		cfg.Name = deriveName(source)
	}
	return cfg
}

// deriveName makes a catalog name from a package or URL source.
func deriveName(source string) string {
	name := source
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimPrefix(name, "server-")
	name = strings.TrimSuffix(name, ".git")
	if i := strings.Index(name, "@"); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, NameSeparator, "-")
}

// Uninstall stops a server and removes its catalog entry and token.
func (m *Manager) Uninstall(name string) error {
	if err := m.stopServer(name); err != nil {
		m.logger.Warn("stop during uninstall", "server", name, "error", err)
	}

	m.mu.Lock()
	if _, ok := m.servers[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("server %q not installed", name)
	}
	delete(m.servers, name)
	m.mu.Unlock()

	if err := m.catalog.Delete(name); err != nil {
		return err
	}
	m.notifyChange()
	return nil
}

// SetEnabled flips the orthogonal enabled flag, starting or stopping
// the server to match.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	handle, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("server %q not installed", name)
	}
	handle.entry.Enabled = enabled
	m.persistStateLocked(handle)
	m.mu.Unlock()

	var err error
	if enabled {
		err = m.startServer(ctx, name)
	} else {
		err = m.stopServer(name)
	}
	m.notifyChange()
	return err
}

// Restart stops and starts a server.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.stopServer(name); err != nil {
		return err
	}
	if err := m.startServer(ctx, name); err != nil {
		return err
	}
	m.notifyChange()
	return nil
}

// ServerStatus is the admin view of one server.
type ServerStatus struct {
	Name      string      `json:"name"`
	Source    string      `json:"source"`
	State     ServerState `json:"state"`
	Enabled   bool        `json:"enabled"`
	Connected bool        `json:"connected"`
	Tools     int         `json:"tools"`
}

// Status reports every installed server, or just one when name is set.
func (m *Manager) Status(name string) []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var statuses []ServerStatus
	for serverName, handle := range m.servers {
		if name != "" && serverName != name {
			continue
		}
		status := ServerStatus{
			Name:    serverName,
			Source:  handle.entry.Config.Source,
			State:   handle.state,
			Enabled: handle.entry.Enabled,
		}
		if handle.client != nil {
			status.Connected = handle.client.Connected()
			status.Tools = len(handle.client.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// NamespacedTool pairs a tool with its model-facing namespaced name.
type NamespacedTool struct {
	Server string
	Name   string // server__tool
	Tool   *Tool
}

// AllTools lists every tool from running, enabled servers under its
// namespaced name.
func (m *Manager) AllTools() []NamespacedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []NamespacedTool
	for serverName, handle := range m.servers {
		if handle.client == nil || !handle.entry.Enabled {
			continue
		}
		for _, tool := range handle.client.Tools() {
			out = append(out, NamespacedTool{
				Server: serverName,
				Name:   Namespaced(serverName, tool.Name),
				Tool:   tool,
			})
		}
	}
	return out
}

// ResolveBareName finds the server exporting an un-namespaced tool
// name. With several candidates it warns and picks the first; explicit
// namespacing chooses deterministically.
func (m *Manager) ResolveBareName(name string) (server string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []string
	for serverName, handle := range m.servers {
		if handle.client == nil || !handle.entry.Enabled {
			continue
		}
		for _, tool := range handle.client.Tools() {
			if tool.Name == name {
				matches = append(matches, serverName)
				break
			}
		}
	}

	if len(matches) == 0 {
		return "", false
	}
	if len(matches) > 1 {
		m.logger.Warn("ambiguous bare tool name, using first match",
			"tool", name,
			"servers", matches)
	}
	return matches[0], true
}

// CallTool invokes a namespaced or bare tool name. A disconnected
// server gets one transparent reconnect attempt before the call fails.
func (m *Manager) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallResult, error) {
	server, tool, ok := SplitName(name)
	if !ok {
		resolved, found := m.ResolveBareName(name)
		if !found {
			return nil, fmt.Errorf("no plugin server exports tool %q", name)
		}
		server, tool = resolved, name
	}

	client, err := m.clientFor(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, arguments)
}

// clientFor returns a connected client, reconnecting once if needed.
func (m *Manager) clientFor(ctx context.Context, server string) (*Client, error) {
	m.mu.RLock()
	handle, ok := m.servers[server]
	var client *Client
	var enabled bool
	if ok {
		client = handle.client
		enabled = handle.entry.Enabled
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("server %q not installed", server)
	}
	if !enabled {
		return nil, fmt.Errorf("server %q is disabled", server)
	}
	if client != nil && client.Connected() {
		return client, nil
	}

	m.logger.Info("plugin server disconnected, attempting reconnect", "server", server)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(reconnectBackoff):
	}

	if err := m.stopServer(server); err != nil {
		m.logger.Debug("stop before reconnect", "server", server, "error", err)
	}
	if err := m.startServer(ctx, server); err != nil {
		return nil, fmt.Errorf("reconnect %q: %w", server, err)
	}

	m.mu.RLock()
	client = m.servers[server].client
	m.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("server %q unavailable after reconnect", server)
	}
	return client, nil
}
