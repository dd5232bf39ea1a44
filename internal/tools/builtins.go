package tools

import (
	"fmt"

	"github.com/clarahq/clara/internal/memory"
)

// BuiltinConfig groups the built-in tool settings.
type BuiltinConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
	FetchURL  FetchURLConfig  `yaml:"fetch_url"`
}

// RegisterBuiltins registers the standard tool set.
func RegisterBuiltins(registry *Registry, cfg BuiltinConfig, memClient memory.Client) error {
	defs := []*Definition{
		NewWebSearchTool(cfg.WebSearch),
		NewFetchURLTool(cfg.FetchURL),
		NewDatetimeTool(),
	}
	if memClient != nil {
		defs = append(defs, NewMemorySearchTool(memClient))
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}
