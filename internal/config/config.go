// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clarahq/clara/internal/observability"
)

// Config is the main configuration structure for the Clara gateway.
type Config struct {
	Server   ServerConfig              `yaml:"server"`
	Database DatabaseConfig            `yaml:"database"`
	LLM      LLMConfig                 `yaml:"llm"`
	Router   RouterConfig              `yaml:"router"`
	Memory   MemoryConfig              `yaml:"memory"`
	Tools    ToolsConfig               `yaml:"tools"`
	Worker   WorkerConfig              `yaml:"worker"`
	Logging  LoggingConfig             `yaml:"logging"`
	Tracing  observability.TraceConfig `yaml:"tracing"`
}

// ServerConfig configures the adapter-facing transport listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PingInterval is how often the server pings each connection.
	PingInterval time.Duration `yaml:"ping_interval"`

	// ReadTimeout is the per-connection read deadline; a connection that
	// stays silent past it is dropped.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// NodeGraceWindow is how long a disconnected node keeps its session
	// mapping for resumable reconnects.
	NodeGraceWindow time.Duration `yaml:"node_grace_window"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// URL is the postgres connection string.
	URL string `yaml:"url"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig configures providers and the tier-to-model table.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`

	// Tiers maps low/mid/high to concrete model identifiers.
	Tiers TierTable `yaml:"tiers"`

	// AutoTier enables the classification call that picks a tier when the
	// request does not carry an override.
	AutoTier bool `yaml:"auto_tier"`

	MaxTokens     int           `yaml:"max_tokens"`
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TierTable maps coarse tiers to model ids.
type TierTable struct {
	Low  string `yaml:"low"`
	Mid  string `yaml:"mid"`
	High string `yaml:"high"`
}

// RouterConfig tunes per-channel scheduling.
type RouterConfig struct {
	// Debounce is how long batchable messages are held for coalescing.
	Debounce time.Duration `yaml:"debounce"`

	// QueueCap is the maximum queued requests per channel.
	QueueCap int `yaml:"queue_cap"`
}

// MemoryConfig configures the external semantic memory engine.
type MemoryConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// CatalogDir is where plugin-server catalog JSON files live.
	CatalogDir string `yaml:"catalog_dir"`

	// SandboxTimeout bounds a single sandboxed command.
	SandboxTimeout time.Duration `yaml:"sandbox_timeout"`

	// SandboxWorkDir is the working directory for sandboxed commands.
	SandboxWorkDir string `yaml:"sandbox_workdir"`

	// ParallelReads allows read-intent tools to execute concurrently
	// within a single turn. Off by default.
	ParallelReads bool `yaml:"parallel_reads"`

	// CallTimeout bounds a single plugin tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// WorkerConfig tunes the background worker.
type WorkerConfig struct {
	// ShutdownTimeout bounds the drain of in-flight background tasks.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PersonalityChance is the probability of a personality-evolution
	// pass after a response.
	PersonalityChance float64 `yaml:"personality_chance"`

	// MaintenanceSchedule is a cron expression for the periodic memory
	// maintenance sweep. Empty disables it.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			PingInterval:    15 * time.Second,
			ReadTimeout:     45 * time.Second,
			NodeGraceWindow: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "clara.db",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Tiers: TierTable{
				Low:  "claude-3-5-haiku-latest",
				Mid:  "claude-sonnet-4-20250514",
				High: "claude-opus-4-20250514",
			},
			AutoTier:      true,
			MaxTokens:     4096,
			MaxIterations: 10,
			Timeout:       2 * time.Minute,
		},
		Router: RouterConfig{
			Debounce: 2 * time.Second,
			QueueCap: 10,
		},
		Memory: MemoryConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Tools: ToolsConfig{
			CatalogDir:     "mcp-servers",
			SandboxTimeout: 30 * time.Second,
			CallTimeout:    60 * time.Second,
		},
		Worker: WorkerConfig{
			ShutdownTimeout:   15 * time.Second,
			PersonalityChance: 0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, expanding ${ENV} references, and overlays
// it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "ollama", "openrouter":
		if c.LLM.BaseURL == "" && c.LLM.Provider == "ollama" {
			return fmt.Errorf("llm.base_url is required for ollama")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	if c.Router.QueueCap <= 0 {
		return fmt.Errorf("router.queue_cap must be positive")
	}
	if c.LLM.MaxIterations <= 0 {
		return fmt.Errorf("llm.max_iterations must be positive")
	}
	return nil
}
