package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clarahq/clara/internal/mcp"
	"github.com/clarahq/clara/internal/sandbox"
	"github.com/clarahq/clara/pkg/models"
)

// PluginCaller is the slice of the plugin-server manager the executor
// needs. *mcp.Manager satisfies it.
type PluginCaller interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallResult, error)
	ResolveBareName(name string) (server string, ok bool)
	AllTools() []mcp.NamespacedTool
}

// SchemaEntry is one tool declaration handed to the LLM provider.
type SchemaEntry struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Executor routes tool calls by name shape: namespaced names go to the
// plugin manager, registered names to in-process handlers, sandbox
// operation names to the sandbox, and bare plugin names are resolved
// when unambiguous.
type Executor struct {
	registry *Registry
	plugins  PluginCaller
	sandbox  *sandbox.Executor
	logger   *slog.Logger
}

// NewExecutor wires the three dispatch targets. plugins and sandboxExec
// may be nil when the corresponding subsystem is disabled.
func NewExecutor(registry *Registry, plugins PluginCaller, sandboxExec *sandbox.Executor, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		plugins:  plugins,
		sandbox:  sandboxExec,
		logger:   logger.With("component", "tools"),
	}
}

// Execute runs one tool call and always produces a result the
// orchestrator can feed back to the model. Failures become results with
// IsError set; they never abort the request.
//
// Result content is forwarded verbatim: adapter-synthetic markers like
// "__REACTION__:" emitted by handlers must reach the adapter untouched.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, inv Invocation) (result models.ToolResult) {
	result.ToolCallID = call.ID

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked", "tool", call.Name, "panic", r)
			result.Content = fmt.Sprintf("Error: %v", r)
			result.IsError = true
		}
	}()

	inv.Params = call.Input

	if _, _, namespaced := mcp.SplitName(call.Name); namespaced {
		return e.callPlugin(ctx, call, result)
	}

	if def, ok := e.registry.Get(call.Name); ok {
		content, err := def.Handler(ctx, inv)
		if err != nil {
			e.logger.Warn("tool failed", "tool", call.Name, "error", err)
			result.Content = fmt.Sprintf("Error: %v", err)
			result.IsError = true
			return result
		}
		result.Content = content
		return result
	}

	if e.sandbox != nil && e.sandbox.Handles(call.Name) {
		return e.callSandbox(ctx, call, result)
	}

	if e.plugins != nil {
		if _, ok := e.plugins.ResolveBareName(call.Name); ok {
			return e.callPlugin(ctx, call, result)
		}
	}

	result.Content = fmt.Sprintf("Unknown tool: %s", call.Name)
	result.IsError = true
	return result
}

func (e *Executor) callPlugin(ctx context.Context, call models.ToolCall, result models.ToolResult) models.ToolResult {
	if e.plugins == nil {
		result.Content = fmt.Sprintf("Error: plugin servers are disabled (tool %s)", call.Name)
		result.IsError = true
		return result
	}

	callResult, err := e.plugins.CallTool(ctx, call.Name, call.Input)
	if err != nil {
		e.logger.Warn("plugin tool failed", "tool", call.Name, "error", err)
		result.Content = fmt.Sprintf("Error: %v", err)
		result.IsError = true
		return result
	}

	result.Content = callResult.Text()
	result.IsError = callResult.IsError
	return result
}

func (e *Executor) callSandbox(ctx context.Context, call models.ToolCall, result models.ToolResult) models.ToolResult {
	var params struct {
		Code    string `json:"code"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Input, &params); err != nil {
		result.Content = fmt.Sprintf("Error: invalid parameters: %v", err)
		result.IsError = true
		return result
	}

	switch call.Name {
	case sandbox.OpExecutePython:
		result.Content = e.sandbox.ExecutePython(ctx, params.Code)
	case sandbox.OpRunShell:
		result.Content = e.sandbox.RunShell(ctx, params.Command)
	}
	return result
}

// Schemas lists every tool visible to a node: filtered built-ins,
// sandbox operations, and namespaced plugin tools.
func (e *Executor) Schemas(platform string, caps []models.Capability) []SchemaEntry {
	var out []SchemaEntry

	for _, def := range e.registry.ForNode(platform, caps) {
		out = append(out, SchemaEntry{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Schema,
		})
	}

	if e.sandbox != nil {
		out = append(out, sandboxSchemas()...)
	}

	if e.plugins != nil {
		for _, tool := range e.plugins.AllTools() {
			out = append(out, SchemaEntry{
				Name:        tool.Name,
				Description: tool.Tool.Description,
				InputSchema: tool.Tool.InputSchema,
			})
		}
	}
	return out
}

// Intent reports a tool's side-effect class. Sandbox operations count
// as execute; plugin tools and anything unknown count as network, so
// only explicitly read-declared built-ins are eligible for concurrent
// execution.
func (e *Executor) Intent(name string) models.Intent {
	if def, ok := e.registry.Get(name); ok {
		if def.Intent != "" {
			return def.Intent
		}
		return models.IntentWrite
	}
	if e.sandbox != nil && e.sandbox.Handles(name) {
		return models.IntentExecute
	}
	return models.IntentNetwork
}

type executePythonParams struct {
	Code string `json:"code" jsonschema:"required,description=Python source to execute in the sandbox"`
}

type runShellParams struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to execute in the sandbox"`
}

func sandboxSchemas() []SchemaEntry {
	return []SchemaEntry{
		{
			Name:        sandbox.OpExecutePython,
			Description: "Execute a Python snippet in an isolated sandbox and return its output.",
			InputSchema: schemaFor(&executePythonParams{}),
		},
		{
			Name:        sandbox.OpRunShell,
			Description: "Run a shell command in an isolated sandbox and return its output.",
			InputSchema: schemaFor(&runShellParams{}),
		},
	}
}
