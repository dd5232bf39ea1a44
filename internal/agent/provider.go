// Package agent drives the streaming LLM tool-calling loop.
package agent

import (
	"context"

	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

// Provider is an LLM backend presenting a uniform streaming interface.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends a request and streams the response. The channel is
	// closed when the stream ends; errors arrive as chunk.Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier ("anthropic", "openai").
	Name() string
}

// CompletionRequest is one call to a provider.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []tools.SchemaEntry `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn in the working conversation.
// Role is "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one streamed fragment of a provider response.
type CompletionChunk struct {
	// Text is a partial response fragment.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// Token usage, populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
