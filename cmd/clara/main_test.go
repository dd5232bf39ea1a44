package main

import (
	"testing"

	"github.com/clarahq/clara/internal/config"
)

func TestRootCmdHasServe(t *testing.T) {
	root := buildRootCmd()
	for _, cmd := range root.Commands() {
		if cmd.Name() == "serve" {
			return
		}
	}
	t.Fatal("serve subcommand missing")
}

func TestBuildLoggerLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := buildLogger(config.LoggingConfig{Level: level}); err != nil {
			t.Errorf("level %q: %v", level, err)
		}
	}
	if _, err := buildLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestResolveAPIKeyPrefersConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	key := resolveAPIKey(config.LLMConfig{Provider: "anthropic", APIKey: "cfg-key"})
	if key != "cfg-key" {
		t.Errorf("key = %q", key)
	}
	key = resolveAPIKey(config.LLMConfig{Provider: "anthropic"})
	if key != "env-key" {
		t.Errorf("key = %q", key)
	}
}
