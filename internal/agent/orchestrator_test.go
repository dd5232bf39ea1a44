package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

// scriptedTurn is one provider response: text fragments, then tool
// calls, then an optional stream error.
type scriptedTurn struct {
	text     []string
	calls    []models.ToolCall
	err      error
	startErr error
}

type fakeProvider struct {
	turns    []scriptedTurn
	requests []*CompletionRequest
	repeat   bool // replay the last turn forever
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	i := len(f.requests)
	if i >= len(f.turns) {
		if !f.repeat {
			return nil, errors.New("script exhausted")
		}
		i = len(f.turns) - 1
	}
	f.requests = append(f.requests, req)
	turn := f.turns[i]
	if turn.startErr != nil {
		return nil, turn.startErr
	}

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		for _, text := range turn.text {
			chunks <- &CompletionChunk{Text: text}
		}
		for i := range turn.calls {
			chunks <- &CompletionChunk{ToolCall: &turn.calls[i]}
		}
		if turn.err != nil {
			chunks <- &CompletionChunk{Error: turn.err}
			return
		}
		chunks <- &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	}()
	return chunks, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	executed []string
	intents  map[string]models.Intent
	delay    map[string]time.Duration
}

func (f *fakeRunner) Execute(ctx context.Context, call models.ToolCall, inv tools.Invocation) models.ToolResult {
	if d := f.delay[call.Name]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.executed = append(f.executed, call.Name)
	f.mu.Unlock()
	return models.ToolResult{ToolCallID: call.ID, Content: "result:" + call.Name}
}

func (f *fakeRunner) Intent(name string) models.Intent {
	if intent, ok := f.intents[name]; ok {
		return intent
	}
	return models.IntentWrite
}

type sinkEvent struct {
	kind    string
	step    int
	name    string
	text    string
	isError bool
}

type recordingSink struct {
	events []sinkEvent
	accum  string
}

func (s *recordingSink) Chunk(text, accumulated string) {
	s.events = append(s.events, sinkEvent{kind: "chunk", text: text})
	s.accum = accumulated
}

func (s *recordingSink) ToolStart(step int, name, argsPreview string) {
	s.events = append(s.events, sinkEvent{kind: "tool_start", step: step, name: name, text: argsPreview})
}

func (s *recordingSink) ToolResult(step int, name, resultPreview string, isError bool) {
	s.events = append(s.events, sinkEvent{kind: "tool_result", step: step, name: name, text: resultPreview, isError: isError})
}

func TestRunPlainResponse(t *testing.T) {
	provider := &fakeProvider{turns: []scriptedTurn{
		{text: []string{"Hello, ", "world."}},
	}}
	sink := &recordingSink{}
	orch := NewOrchestrator(provider, &fakeRunner{}, OrchestratorConfig{}, nil)

	result, err := orch.Run(context.Background(), &RunRequest{
		Model:    "test-model",
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "Hello, world." || result.ToolCount != 0 || result.Partial {
		t.Errorf("result = %+v", result)
	}
	if sink.accum != "Hello, world." {
		t.Errorf("accumulated = %q", sink.accum)
	}
	if result.InputTokens != 10 || result.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d", result.InputTokens, result.OutputTokens)
	}
}

func TestRunToolLoop(t *testing.T) {
	provider := &fakeProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{{ID: "c1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)}}},
		{text: []string{"the answer"}},
	}}
	runner := &fakeRunner{}
	sink := &recordingSink{}
	orch := NewOrchestrator(provider, runner, OrchestratorConfig{}, nil)

	result, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "question"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "the answer" || result.ToolCount != 1 {
		t.Errorf("result = %+v", result)
	}

	var kinds []string
	for _, ev := range sink.events {
		kinds = append(kinds, ev.kind)
	}
	want := []string{"tool_start", "tool_result", "chunk"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v", kinds)
	}
	if sink.events[0].step != 1 || sink.events[0].name != "lookup" {
		t.Errorf("tool_start = %+v", sink.events[0])
	}
	if sink.events[1].text != "result:lookup" {
		t.Errorf("tool_result preview = %q", sink.events[1].text)
	}

	// Second request must carry the assistant tool-call turn and the
	// tool results.
	if len(provider.requests) != 2 {
		t.Fatalf("requests = %d", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	last, prev := msgs[len(msgs)-1], msgs[len(msgs)-2]
	if prev.Role != "assistant" || len(prev.ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", prev)
	}
	if last.Role != "tool" || len(last.ToolResults) != 1 || last.ToolResults[0].ToolCallID != "c1" {
		t.Errorf("tool turn = %+v", last)
	}
}

func TestRunIterationCap(t *testing.T) {
	provider := &fakeProvider{
		turns: []scriptedTurn{
			{calls: []models.ToolCall{{ID: "c", Name: "spin", Input: json.RawMessage(`{}`)}}},
		},
		repeat: true,
	}
	sink := &recordingSink{}
	orch := NewOrchestrator(provider, &fakeRunner{}, OrchestratorConfig{MaxIterations: 3}, nil)

	result, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "go"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ToolCount != 3 {
		t.Errorf("tool count = %d", result.ToolCount)
	}
	if !strings.Contains(result.Text, "tool loop exhausted") {
		t.Errorf("text = %q", result.Text)
	}
	last := sink.events[len(sink.events)-1]
	if last.kind != "chunk" || !strings.Contains(last.text, "tool loop exhausted") {
		t.Errorf("last event = %+v", last)
	}
}

func TestRunPartialOnMidStreamFailure(t *testing.T) {
	provider := &fakeProvider{turns: []scriptedTurn{
		{text: []string{"partial text"}, err: errors.New("connection reset")},
	}}
	orch := NewOrchestrator(provider, &fakeRunner{}, OrchestratorConfig{}, nil)

	result, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Partial || result.Text != "partial text" {
		t.Errorf("result = %+v", result)
	}
}

func TestRunErrorBeforeAnyText(t *testing.T) {
	provider := &fakeProvider{turns: []scriptedTurn{
		{startErr: errors.New("401 unauthorized")},
	}}
	orch := NewOrchestrator(provider, &fakeRunner{}, OrchestratorConfig{}, nil)

	_, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunParallelReadsKeepSubmissionOrder(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "a", Name: "slow_read", Input: json.RawMessage(`{}`)},
		{ID: "b", Name: "fast_read", Input: json.RawMessage(`{}`)},
	}
	provider := &fakeProvider{turns: []scriptedTurn{
		{calls: calls},
		{text: []string{"done"}},
	}}
	runner := &fakeRunner{
		intents: map[string]models.Intent{"slow_read": models.IntentRead, "fast_read": models.IntentRead},
		delay:   map[string]time.Duration{"slow_read": 50 * time.Millisecond},
	}
	sink := &recordingSink{}
	orch := NewOrchestrator(provider, runner, OrchestratorConfig{ParallelReads: true}, nil)

	if _, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "go"}},
	}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The fast tool finishes first but events and fed-back results keep
	// submission order.
	var starts, results []string
	for _, ev := range sink.events {
		switch ev.kind {
		case "tool_start":
			starts = append(starts, ev.name)
		case "tool_result":
			results = append(results, ev.name)
		}
	}
	if strings.Join(starts, ",") != "slow_read,fast_read" {
		t.Errorf("starts = %v", starts)
	}
	if strings.Join(results, ",") != "slow_read,fast_read" {
		t.Errorf("results = %v", results)
	}

	toolTurn := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	if toolTurn.ToolResults[0].ToolCallID != "a" || toolTurn.ToolResults[1].ToolCallID != "b" {
		t.Errorf("result order = %+v", toolTurn.ToolResults)
	}
}

func TestRunSerializesMixedIntents(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "a", Name: "read_it", Input: json.RawMessage(`{}`)},
		{ID: "b", Name: "write_it", Input: json.RawMessage(`{}`)},
	}
	provider := &fakeProvider{turns: []scriptedTurn{
		{calls: calls},
		{text: []string{"done"}},
	}}
	runner := &fakeRunner{intents: map[string]models.Intent{"read_it": models.IntentRead}}
	orch := NewOrchestrator(provider, runner, OrchestratorConfig{ParallelReads: true}, nil)

	if _, err := orch.Run(context.Background(), &RunRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "go"}},
	}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(runner.executed, ",") != "read_it,write_it" {
		t.Errorf("executed = %v", runner.executed)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := preview(long)
	if len(got) != previewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("preview len = %d", len(got))
	}
	if preview("short") != "short" {
		t.Errorf("short preview mangled")
	}
}
