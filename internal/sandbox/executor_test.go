package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunShellCapturesOutput(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)

	out := executor.RunShell(context.Background(), "echo hello; echo err >&2")
	if !strings.Contains(out, "hello") || !strings.Contains(out, "err") {
		t.Errorf("output = %q, want combined stdout+stderr", out)
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)

	out := executor.RunShell(context.Background(), "echo partial; exit 3")
	if !strings.HasPrefix(out, "Error: exit code 3") {
		t.Errorf("output = %q, want exit-code prefix", out)
	}
	if !strings.Contains(out, "partial") {
		t.Errorf("output = %q, want captured output on failure", out)
	}
}

func TestRunShellTimeoutKillsProcess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	executor := NewExecutor(cfg, nil)

	start := time.Now()
	out := executor.RunShell(context.Background(), "echo begun; sleep 10")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("process not killed, took %v", elapsed)
	}
	if !strings.Contains(out, "timed out after") {
		t.Errorf("output = %q, want structured timeout string", out)
	}
	if !strings.Contains(out, "begun") {
		t.Errorf("output = %q, want partial output preserved", out)
	}
}

func TestRunShellCancellation(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out := executor.RunShell(ctx, "sleep 10")
	if !strings.Contains(out, "cancelled") {
		t.Errorf("output = %q, want cancellation message", out)
	}
}

func TestEmptyOutputPlaceholder(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)

	out := executor.RunShell(context.Background(), "true")
	if out != "(no output)" {
		t.Errorf("output = %q", out)
	}
}

func TestOutputTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutputBytes = 100
	executor := NewExecutor(cfg, nil)

	out := executor.RunShell(context.Background(), "yes x | head -1000")
	if len(out) > 200 {
		t.Errorf("output length = %d, not truncated", len(out))
	}
	if !strings.Contains(out, "truncated") {
		t.Errorf("output = %q, want truncation marker", out)
	}
}

func TestHandles(t *testing.T) {
	executor := NewExecutor(DefaultConfig(), nil)
	if !executor.Handles(OpExecutePython) || !executor.Handles(OpRunShell) {
		t.Error("sandbox operations not recognized")
	}
	if executor.Handles("web_search") {
		t.Error("non-sandbox name recognized")
	}
}
