package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clara.yaml")
	data := `
server:
  port: 9000
router:
  debounce: 3s
llm:
  provider: openai
  tiers:
    low: gpt-4o-mini
    mid: gpt-4o
    high: gpt-4o
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host default not preserved, got %q", cfg.Server.Host)
	}
	if cfg.Router.Debounce != 3*time.Second {
		t.Errorf("debounce = %v, want 3s", cfg.Router.Debounce)
	}
	if cfg.LLM.Tiers.Low != "gpt-4o-mini" {
		t.Errorf("tier low = %q", cfg.LLM.Tiers.Low)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CLARA_TEST_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "clara.yaml")
	data := "llm:\n  api_key: ${CLARA_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q, want expanded env value", cfg.LLM.APIKey)
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
