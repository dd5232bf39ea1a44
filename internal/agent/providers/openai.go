package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible provider. A BaseURL
// override points the same client at Ollama, OpenRouter, or any other
// chat-completions endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Name         string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// OpenAIProvider speaks the chat completions streaming API.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         cfg.Name,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

// Complete streams a response, retrying stream creation with linear
// backoff on transient failures.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		request, err := p.buildRequest(req)
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: err}
			return
		}

		var stream *openai.ChatCompletionStream
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, request)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				chunks <- &agent.CompletionChunk{Error: err}
				return
			}
			if attempt < p.maxRetries {
				select {
				case <-ctx.Done():
					chunks <- &agent.CompletionChunk{Error: ctx.Err()}
					return
				case <-time.After(p.retryDelay * time.Duration(attempt+1)):
				}
			}
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: fmt.Errorf("openai: max retries exceeded: %w", err)}
			return
		}
		defer stream.Close()

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	request := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            convertOpenAIMessages(req.Messages, req.System),
		MaxCompletionTokens: maxTokens,
		Stream:              true,
		StreamOptions:       &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		tools, err := convertOpenAITools(req.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("openai: convert tools: %w", err)
		}
		request.Tools = tools
	}
	return request, nil
}

// processStream accumulates streamed tool-call fragments by index: the
// first fragment carries id and name, later ones append argument text.
func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	toolCalls := make(map[int]*models.ToolCall)
	toolArgs := make(map[int]string)
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		indexes := make([]int, 0, len(toolCalls))
		for i := range toolCalls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			call := toolCalls[i]
			args := toolArgs[i]
			if args == "" {
				args = "{}"
			}
			call.Input = json.RawMessage(args)
			chunks <- &agent.CompletionChunk{ToolCall: call}
		}
		toolCalls = make(map[int]*models.ToolCall)
		toolArgs = make(map[int]string)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flushToolCalls()
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: fmt.Errorf("openai: stream: %w", err)}
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if _, ok := toolCalls[index]; !ok {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			toolArgs[index] += tc.Function.Arguments
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
		}
	}
}

func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			result = append(result, out)

		case "tool":
			// One message per result, correlated by tool call id.
			for _, toolResult := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: toolResult.ToolCallID,
					Content:    toolResult.Content,
				})
			}

		default:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if images := imageAttachments(msg.Attachments); len(images) > 0 {
				parts := []openai.ChatMessagePart{{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				}}
				for _, att := range images {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", att.MediaType, att.Data),
						},
					})
				}
				out.MultiContent = parts
			} else {
				out.Content = msg.Content
			}
			result = append(result, out)
		}
	}
	return result
}

func imageAttachments(attachments []models.Attachment) []models.Attachment {
	var images []models.Attachment
	for _, att := range attachments {
		if att.Kind == models.AttachmentImage && att.Data != "" {
			images = append(images, att)
		}
	}
	return images
}

func convertOpenAITools(entries []tools.SchemaEntry) ([]openai.Tool, error) {
	var result []openai.Tool
	for _, entry := range entries {
		var schema map[string]any
		if err := json.Unmarshal(entry.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", entry.Name, err)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        entry.Name,
				Description: entry.Description,
				Parameters:  schema,
			},
		})
	}
	return result, nil
}
