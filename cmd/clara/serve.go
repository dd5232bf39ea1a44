package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/agent/providers"
	"github.com/clarahq/clara/internal/config"
	"github.com/clarahq/clara/internal/gateway"
	"github.com/clarahq/clara/internal/identity"
	"github.com/clarahq/clara/internal/mcp"
	"github.com/clarahq/clara/internal/memory"
	"github.com/clarahq/clara/internal/nodes"
	"github.com/clarahq/clara/internal/observability"
	"github.com/clarahq/clara/internal/processor"
	"github.com/clarahq/clara/internal/prompt"
	"github.com/clarahq/clara/internal/router"
	"github.com/clarahq/clara/internal/sandbox"
	"github.com/clarahq/clara/internal/sessions"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/internal/worker"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CLARA_CONFIG"), "path to config file")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	stopTracing, err := observability.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	store, db, isPostgres, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	ident, err := identity.NewSQLStore(db, isPostgres)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}

	var mem memory.Client = memory.NoopClient{}
	if cfg.Memory.Enabled {
		mem = memory.NewHTTPClient(memory.HTTPConfig{
			BaseURL: cfg.Memory.URL,
			Timeout: cfg.Memory.Timeout,
		})
	}

	catalog, err := mcp.NewCatalog(cfg.Tools.CatalogDir)
	if err != nil {
		return fmt.Errorf("open plugin catalog: %w", err)
	}
	plugins := mcp.NewManager(catalog, logger)
	if err := plugins.Start(context.Background()); err != nil {
		return fmt.Errorf("start plugin servers: %w", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinConfig{}, mem); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	sandboxExec := sandbox.NewExecutor(sandbox.Config{
		Timeout: cfg.Tools.SandboxTimeout,
		WorkDir: cfg.Tools.SandboxWorkDir,
	}, logger)
	executor := tools.NewExecutor(registry, plugins, sandboxExec, logger)

	provider, err := providers.NewPool().Get(providers.Spec{
		Kind:         cfg.LLM.Provider,
		APIKey:       resolveAPIKey(cfg.LLM),
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Tiers.Mid,
	})
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	tiers := agent.NewTierResolver(provider, agent.TierTable{
		Low:  cfg.LLM.Tiers.Low,
		Mid:  cfg.LLM.Tiers.Mid,
		High: cfg.LLM.Tiers.High,
	}, cfg.LLM.AutoTier, logger)

	builder := prompt.NewBuilder(store, ident, mem, "", logger)

	pool := worker.NewPool(mem, provider, nil, worker.Config{
		MaintenanceSchedule: cfg.Worker.MaintenanceSchedule,
		SentimentModel:      cfg.LLM.Tiers.Low,
		PersonalityModel:    cfg.LLM.Tiers.Low,
	}, logger)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	proc := processor.New(builder, provider, tiers, executor, store, pool, processor.Config{
		RequestTimeout: cfg.LLM.Timeout,
		MaxIterations:  cfg.LLM.MaxIterations,
		MaxTokens:      cfg.LLM.MaxTokens,
		ParallelReads:  cfg.Tools.ParallelReads,
	}, logger)
	rt := router.New(router.Config{
		Debounce: cfg.Router.Debounce,
		QueueCap: cfg.Router.QueueCap,
	}, proc.Process, logger)
	proc.SetRouter(rt)

	nodeRegistry := nodes.NewRegistry(nodes.RegistryConfig{
		GraceWindow: cfg.Server.NodeGraceWindow,
	}, logger)

	server := gateway.NewServer(gateway.Config{
		Addr:          fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		SweepInterval: time.Minute,
	}, proc, rt, plugins, nodeRegistry, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}

	// Shutdown order matters: stop accepting adapter traffic, then
	// cancel in-flight requests and drain background work, then stop
	// plugin servers the drained tasks may have been calling.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	proc.Shutdown(cfg.Worker.ShutdownTimeout)
	if err := plugins.Stop(); err != nil {
		logger.Warn("plugin shutdown", "error", err)
	}
	return nil
}

// openStore builds the configured relational store and hands back its
// DB handle for the identity tables, which share the database.
func openStore(cfg config.DatabaseConfig) (sessions.Store, *sql.DB, bool, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := sessions.NewPostgresStore(&sessions.PostgresConfig{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, false, err
		}
		return store, store.DB(), true, nil
	default:
		store, err := sessions.NewSQLiteStore(&sessions.SQLiteConfig{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, false, err
		}
		return store, store.DB(), false, nil
	}
}

// resolveAPIKey falls back to the provider's conventional environment
// variable when the config does not set a key.
func resolveAPIKey(cfg config.LLMConfig) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	switch cfg.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
