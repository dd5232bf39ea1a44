// Package processor drives a request end to end: channel admission,
// context building, the orchestrator loop, persistence, terminal
// events, and the post-response background tasks.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/prompt"
	"github.com/clarahq/clara/internal/router"
	"github.com/clarahq/clara/internal/sessions"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/internal/worker"
	"github.com/clarahq/clara/pkg/models"
)

// Emitter delivers request progress back to the originating adapter.
// Implementations must tolerate calls after disconnect.
type Emitter interface {
	ResponseStart(requestID string)
	Chunk(requestID, text, accumulated string)
	ToolStart(requestID string, step int, name, argsPreview string)
	ToolResult(requestID string, step int, name, resultPreview string, isError bool)
	ResponseEnd(requestID, text string, toolCount int)
	Cancelled(requestID string)
	Error(requestID, code, message string)
}

type noopEmitter struct{}

func (noopEmitter) ResponseStart(string)                         {}
func (noopEmitter) Chunk(string, string, string)                 {}
func (noopEmitter) ToolStart(string, int, string, string)        {}
func (noopEmitter) ToolResult(string, int, string, string, bool) {}
func (noopEmitter) ResponseEnd(string, string, int)              {}
func (noopEmitter) Cancelled(string)                             {}
func (noopEmitter) Error(string, string, string)                 {}

// ToolSource is the slice of the tool executor the processor needs.
// *tools.Executor satisfies it.
type ToolSource interface {
	agent.ToolRunner
	Schemas(platform string, caps []models.Capability) []tools.SchemaEntry
}

// Config tunes request processing.
type Config struct {
	// RequestTimeout bounds one request end to end.
	RequestTimeout time.Duration

	MaxIterations int
	MaxTokens     int
	ParallelReads bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 2 * time.Minute,
		MaxIterations:  agent.DefaultMaxIterations,
		MaxTokens:      4096,
	}
}

// binding carries the per-request transport context set at submission.
type binding struct {
	emitter  Emitter
	platform string
	caps     []models.Capability
}

// Processor owns the per-request pipeline. The router promotes into
// process; everything after that runs on the request's own goroutine.
type Processor struct {
	router   *router.Router
	builder  *prompt.Builder
	provider agent.Provider
	tiers    *agent.TierResolver
	tools    ToolSource
	sessions sessions.Store
	worker   *worker.Pool
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	bindings map[string]*binding
}

// New wires the pipeline. The returned processor's Process method must
// be installed as the router's promote callback.
func New(builder *prompt.Builder, provider agent.Provider, tiers *agent.TierResolver, toolSource ToolSource, store sessions.Store, pool *worker.Pool, cfg Config, logger *slog.Logger) *Processor {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		builder:  builder,
		provider: provider,
		tiers:    tiers,
		tools:    toolSource,
		sessions: store,
		worker:   pool,
		cfg:      cfg,
		logger:   logger.With("component", "processor"),
		tracer:   otel.Tracer("clara/processor"),
		bindings: make(map[string]*binding),
	}
}

// SetRouter installs the router after construction; the router needs
// Process as its promote callback, so the two are built in two steps.
// Bindings for requests the router discards without promoting them,
// coalesced into a batch or dropped at shutdown, are released here.
func (p *Processor) SetRouter(r *router.Router) {
	p.router = r
	r.OnDiscard(p.dropBinding)
}

// Submit binds the transport context for a request and admits it to the
// router.
func (p *Processor) Submit(req *models.Request, platform string, caps []models.Capability, emitter Emitter) router.Outcome {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	p.mu.Lock()
	p.bindings[req.ID] = &binding{emitter: emitter, platform: platform, caps: caps}
	p.mu.Unlock()

	outcome := p.router.Submit(req)
	if outcome == router.Rejected {
		p.dropBinding(req.ID)
	}
	return outcome
}

// Cancel cancels a request wherever it is. For queued requests the
// terminal event is emitted here; for active ones the processing
// goroutine emits it when its context dies.
func (p *Processor) Cancel(requestID string) router.CancelOutcome {
	outcome := p.router.Cancel(requestID)
	if outcome == router.CancelledQueued {
		p.binding(requestID).emitter.Cancelled(requestID)
		p.dropBinding(requestID)
	}
	return outcome
}

// Process runs one promoted request. Installed as the router's promote
// callback; the router invokes it on a fresh goroutine.
func (p *Processor) Process(req *models.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	defer cancel()
	p.router.BindCancel(req.ID, cancel)

	ctx, span := p.tracer.Start(ctx, "request")
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.platform", req.Platform),
		attribute.String("request.channel", req.ChannelKey()),
	)
	defer span.End()

	bind := p.binding(req.ID)
	defer p.dropBinding(req.ID)
	emitter := bind.emitter

	emitter.ResponseStart(req.ID)

	projectID := req.Metadata["project_id"]
	toolSchemas := p.tools.Schemas(bind.platform, bind.caps)

	built, err := p.builder.Build(ctx, &prompt.Input{
		Request:   req,
		ProjectID: projectID,
		Tools:     toolSchemas,
	})
	if err != nil {
		p.finishError(ctx, req, emitter, err)
		return
	}

	_, model := p.tiers.Resolve(ctx, string(req.TierOverride), built.Messages)

	orch := agent.NewOrchestrator(p.provider, p.tools, agent.OrchestratorConfig{
		MaxIterations: p.cfg.MaxIterations,
		MaxTokens:     p.cfg.MaxTokens,
		ParallelReads: p.cfg.ParallelReads,
	}, p.logger)

	result, err := orch.Run(ctx, &agent.RunRequest{
		Model:    model,
		System:   built.System,
		Messages: built.Messages,
		Tools:    toolSchemas,
		Invocation: tools.Invocation{
			UserIDs:   built.UserIDs,
			ProjectID: projectID,
			Platform:  bind.platform,
		},
	}, emitterSink{requestID: req.ID, emitter: emitter})
	if err != nil {
		p.finishError(ctx, req, emitter, err)
		return
	}

	p.persistTurn(req, built, result.Text)
	emitter.ResponseEnd(req.ID, result.Text, result.ToolCount)
	p.router.Release(req.ID)

	p.worker.AfterResponse(worker.Task{
		SessionID:        built.SessionID,
		UserID:           req.User.ID,
		UserIDs:          built.UserIDs,
		ProjectID:        projectID,
		Channel:          req.ChannelKey(),
		UserContent:      built.UserContent,
		AssistantContent: result.Text,
		MemoryIDs:        built.MemoryIDs,
	})
}

// finishError maps a failure to its terminal event and releases the
// channel. Context cancellation is a cancel, not an error.
func (p *Processor) finishError(ctx context.Context, req *models.Request, emitter Emitter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		emitter.Cancelled(req.ID)
	} else if errors.Is(err, context.DeadlineExceeded) {
		emitter.Error(req.ID, "timeout", "request timed out")
	} else {
		p.logger.Error("request failed", "request", req.ID, "error", err)
		emitter.Error(req.ID, "internal_error", err.Error())
	}
	p.router.Release(req.ID)
}

// persistTurn stores the user/assistant pair. A turn that produced no
// assistant text, a tool-only run for instance, stores the user message
// alone rather than an empty assistant row. Persistence failures are
// logged but do not fail the response the user already saw.
func (p *Processor) persistTurn(req *models.Request, built *prompt.Result, assistantText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	pair := []*models.Message{
		{
			ID:        uuid.New().String(),
			SessionID: built.SessionID,
			UserID:    req.User.ID,
			Role:      models.RoleUser,
			Content:   built.UserContent,
			CreatedAt: now,
		},
	}
	if assistantText != "" {
		pair = append(pair, &models.Message{
			ID:        uuid.New().String(),
			SessionID: built.SessionID,
			Role:      models.RoleAssistant,
			Content:   assistantText,
			CreatedAt: now.Add(time.Millisecond),
		})
	}
	for _, msg := range pair {
		if err := p.sessions.AppendMessage(ctx, msg); err != nil {
			p.logger.Error("persist message failed", "session", built.SessionID, "role", msg.Role, "error", err)
			return
		}
	}
}

// Shutdown stops admission, cancels in-flight requests, and drains
// background work. Plugin servers are stopped by the caller afterwards,
// since draining tasks may still call tools.
func (p *Processor) Shutdown(drainTimeout time.Duration) {
	p.router.Stop()

	p.mu.Lock()
	ids := make([]string, 0, len(p.bindings))
	for id := range p.bindings {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.router.Cancel(id)
	}

	p.worker.Drain(drainTimeout)
}

func (p *Processor) binding(requestID string) *binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bindings[requestID]; ok {
		return b
	}
	return &binding{emitter: noopEmitter{}}
}

func (p *Processor) dropBinding(requestID string) {
	p.mu.Lock()
	delete(p.bindings, requestID)
	p.mu.Unlock()
}

// emitterSink adapts an Emitter to the orchestrator's event interface.
type emitterSink struct {
	requestID string
	emitter   Emitter
}

func (s emitterSink) Chunk(text, accumulated string) {
	s.emitter.Chunk(s.requestID, text, accumulated)
}

func (s emitterSink) ToolStart(step int, name, argsPreview string) {
	s.emitter.ToolStart(s.requestID, step, name, argsPreview)
}

func (s emitterSink) ToolResult(step int, name, resultPreview string, isError bool) {
	s.emitter.ToolResult(s.requestID, step, name, resultPreview, isError)
}
