// Package sandbox runs user-provided code and shell commands in child
// processes with hard timeouts and bounded output.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Operation names the executor recognizes.
const (
	OpExecutePython = "execute_python"
	OpRunShell      = "run_shell"
)

// Config controls the sandbox executor.
type Config struct {
	PythonBin      string        `yaml:"python_bin"`
	ShellBin       string        `yaml:"shell_bin"`
	Timeout        time.Duration `yaml:"timeout"`
	WorkDir        string        `yaml:"workdir"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// DefaultConfig returns sensible sandbox defaults.
func DefaultConfig() Config {
	return Config{
		PythonBin:      "python3",
		ShellBin:       "/bin/sh",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// Executor runs sandbox operations.
type Executor struct {
	config Config
	logger *slog.Logger
}

// NewExecutor creates a sandbox executor.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.ShellBin == "" {
		cfg.ShellBin = "/bin/sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 * 1024
	}
	return &Executor{
		config: cfg,
		logger: logger.With("component", "sandbox"),
	}
}

// Handles reports whether name is a sandbox operation.
func (e *Executor) Handles(name string) bool {
	return name == OpExecutePython || name == OpRunShell
}

// ExecutePython runs a python snippet and returns combined output.
func (e *Executor) ExecutePython(ctx context.Context, code string) string {
	return e.run(ctx, e.config.PythonBin, "-c", code)
}

// RunShell runs a shell command and returns combined output.
func (e *Executor) RunShell(ctx context.Context, command string) string {
	return e.run(ctx, e.config.ShellBin, "-c", command)
}

// run executes a command, kills it on timeout, and always returns a
// string the model can act on. The timeout string is structured so the
// model can decide to retry with different code.
func (e *Executor) run(ctx context.Context, bin string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	if e.config.WorkDir != "" {
		cmd.Dir = e.config.WorkDir
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	output := e.truncate(buf.String())

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("sandbox command timed out",
			"bin", bin,
			"timeout", e.config.Timeout)
		return fmt.Sprintf("Error: execution timed out after %v (process killed). Partial output:\n%s",
			e.config.Timeout, output)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return "Error: execution cancelled (process killed)"
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.logger.Debug("sandbox command failed",
				"bin", bin,
				"exit_code", exitErr.ExitCode(),
				"elapsed", elapsed)
			return fmt.Sprintf("Error: exit code %d\n%s", exitErr.ExitCode(), output)
		}
		return fmt.Sprintf("Error: %v", err)
	}

	e.logger.Debug("sandbox command completed", "bin", bin, "elapsed", elapsed)
	if strings.TrimSpace(output) == "" {
		return "(no output)"
	}
	return output
}

func (e *Executor) truncate(s string) string {
	if len(s) <= e.config.MaxOutputBytes {
		return s
	}
	return s[:e.config.MaxOutputBytes] + "\n... (output truncated)"
}
