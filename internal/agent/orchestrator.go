package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

const (
	// DefaultMaxIterations bounds the completion/tool loop per request.
	DefaultMaxIterations = 10

	previewLimit     = 200
	exhaustedNotice  = "tool loop exhausted"
	exhaustedPadding = "\n\n"
)

// EventSink receives streaming progress while a request runs. Chunk
// carries both the fragment and the running accumulation so transports
// can offer either view. Steps number tool executions within one
// request, starting at 1.
type EventSink interface {
	Chunk(text string, accumulated string)
	ToolStart(step int, name string, argsPreview string)
	ToolResult(step int, name string, resultPreview string, isError bool)
}

type noopSink struct{}

func (noopSink) Chunk(string, string)                 {}
func (noopSink) ToolStart(int, string, string)        {}
func (noopSink) ToolResult(int, string, string, bool) {}

// ToolRunner executes tool calls. *tools.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, call models.ToolCall, inv tools.Invocation) models.ToolResult
	Intent(name string) models.Intent
}

// OrchestratorConfig tunes the completion loop.
type OrchestratorConfig struct {
	MaxIterations int
	MaxTokens     int

	// ParallelReads lets a turn's tool calls run concurrently when every
	// one of them declares read intent. Off by default; results are
	// reported in submission order either way.
	ParallelReads bool
}

// Orchestrator drives one request through the provider: stream text,
// execute requested tools, feed results back, repeat until the model
// stops asking for tools or the iteration cap is hit.
type Orchestrator struct {
	provider Provider
	runner   ToolRunner
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

func NewOrchestrator(provider Provider, runner ToolRunner, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		runner:   runner,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// RunRequest is one fully assembled request: system prompt, working
// history ending with the current user turn, and the tool inventory.
type RunRequest struct {
	Model      string
	System     string
	Messages   []CompletionMessage
	Tools      []tools.SchemaEntry
	Invocation tools.Invocation
}

// RunResult is the outcome of a request.
type RunResult struct {
	Text      string
	ToolCount int

	// Partial marks a response cut short by a provider failure after
	// text had already streamed. The accumulated text is still usable.
	Partial bool

	InputTokens  int
	OutputTokens int
}

// Run executes the loop. A provider failure before any text streamed is
// returned as an error; after text has streamed it yields a partial
// result instead, so the caller can close out the response with what
// the user already saw.
func (o *Orchestrator) Run(ctx context.Context, req *RunRequest, sink EventSink) (*RunResult, error) {
	if sink == nil {
		sink = noopSink{}
	}

	working := make([]CompletionMessage, len(req.Messages))
	copy(working, req.Messages)

	var accum strings.Builder
	result := &RunResult{}
	step := 0

	for iteration := 0; iteration < o.cfg.MaxIterations; iteration++ {
		chunks, err := o.provider.Complete(ctx, &CompletionRequest{
			Model:     req.Model,
			System:    req.System,
			Messages:  working,
			Tools:     req.Tools,
			MaxTokens: o.cfg.MaxTokens,
		})
		if err != nil {
			return o.failed(accum.String(), result, err)
		}

		var turnText strings.Builder
		var calls []models.ToolCall
		var streamErr error

		for chunk := range chunks {
			if chunk.Error != nil {
				streamErr = chunk.Error
				continue
			}
			if chunk.Text != "" {
				turnText.WriteString(chunk.Text)
				accum.WriteString(chunk.Text)
				sink.Chunk(chunk.Text, accum.String())
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				result.InputTokens += chunk.InputTokens
				result.OutputTokens += chunk.OutputTokens
			}
		}
		if streamErr != nil {
			return o.failed(accum.String(), result, streamErr)
		}

		if len(calls) == 0 {
			result.Text = accum.String()
			return result, nil
		}

		working = append(working, CompletionMessage{
			Role:      "assistant",
			Content:   turnText.String(),
			ToolCalls: calls,
		})
		results := o.runTools(ctx, calls, req.Invocation, sink, &step)
		result.ToolCount += len(calls)
		working = append(working, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	o.logger.Warn("iteration cap reached", "max", o.cfg.MaxIterations, "tools", result.ToolCount)
	notice := exhaustedNotice
	if accum.Len() > 0 {
		notice = exhaustedPadding + exhaustedNotice
	}
	accum.WriteString(notice)
	sink.Chunk(notice, accum.String())
	result.Text = accum.String()
	return result, nil
}

func (o *Orchestrator) failed(accumulated string, result *RunResult, err error) (*RunResult, error) {
	// Cancellation is a terminal outcome of its own, never a partial
	// response.
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	if accumulated == "" {
		return nil, err
	}
	o.logger.Warn("provider failed mid-response, returning partial text", "error", err)
	result.Text = accumulated
	result.Partial = true
	return result, nil
}

// runTools executes a turn's tool calls, serially in submission order
// unless every call is read-intent and parallel execution is enabled.
// Start and result events keep submission order in both modes.
func (o *Orchestrator) runTools(ctx context.Context, calls []models.ToolCall, inv tools.Invocation, sink EventSink, step *int) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	firstStep := *step + 1
	*step += len(calls)

	if o.parallelEligible(calls) {
		for i, call := range calls {
			sink.ToolStart(firstStep+i, call.Name, preview(string(call.Input)))
		}
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call models.ToolCall) {
				defer wg.Done()
				results[i] = o.runner.Execute(ctx, call, inv)
			}(i, call)
		}
		wg.Wait()
		for i, call := range calls {
			sink.ToolResult(firstStep+i, call.Name, preview(results[i].Content), results[i].IsError)
		}
		return results
	}

	for i, call := range calls {
		sink.ToolStart(firstStep+i, call.Name, preview(string(call.Input)))
		results[i] = o.runner.Execute(ctx, call, inv)
		sink.ToolResult(firstStep+i, call.Name, preview(results[i].Content), results[i].IsError)
	}
	return results
}

func (o *Orchestrator) parallelEligible(calls []models.ToolCall) bool {
	if !o.cfg.ParallelReads || len(calls) < 2 {
		return false
	}
	for _, call := range calls {
		if o.runner.Intent(call.Name) != models.IntentRead {
			return false
		}
	}
	return true
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}
