// Package tools holds the in-process tool registry and the executor
// that dispatches tool calls to built-ins, plugin servers, and the
// sandbox.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/clarahq/clara/pkg/models"
)

// Invocation carries the per-request context a handler may need.
type Invocation struct {
	Params    json.RawMessage
	UserIDs   []string // all linked ids of the requesting user
	ProjectID string
	Platform  string
}

// Handler executes one tool call. Returned text goes straight into the
// model's next turn; errors are converted to "Error: ..." results.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Definition describes one in-process tool.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler

	// Platforms restricts the tool to the listed platforms; empty
	// means available everywhere.
	Platforms []string

	// Requires lists node capabilities the tool depends on.
	Requires []models.Capability

	Risk   models.RiskLevel
	Intent models.Intent
}

// AvailableOn reports whether the tool can run for a node on the given
// platform with the given capabilities.
func (d *Definition) AvailableOn(platform string, caps []models.Capability) bool {
	if len(d.Platforms) > 0 {
		found := false
		for _, p := range d.Platforms {
			if p == platform {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, required := range d.Requires {
		has := false
		for _, c := range caps {
			if c == required {
				has = true
				break
			}
		}
		if !has {
			return false
		}
	}
	return true
}

// Registry stores in-process tool definitions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a definition. Re-registering a name is an error.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ForNode returns the definitions available to a node.
func (r *Registry) ForNode(platform string, caps []models.Capability) []*Definition {
	var out []*Definition
	for _, def := range r.List() {
		if def.AvailableOn(platform, caps) {
			out = append(out, def)
		}
	}
	return out
}
