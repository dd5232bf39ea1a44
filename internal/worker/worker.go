// Package worker runs post-response background tasks: memory
// extraction, sentiment tracking, reinforcement, and opportunistic
// personality evolution. Nothing here may delay the next request;
// every failure is logged and swallowed.
package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/memory"
)

const (
	// personalityChance is the probability that a completed response
	// triggers the personality-evolution call.
	personalityChance = 0.1

	taskTimeout = 30 * time.Second
)

// Notifier is the hook into an ambient proactive-response system. The
// gateway only reports signals; whether anything is sent is not its
// concern.
type Notifier interface {
	ProactiveHint(ctx context.Context, userID, channel, hint string) error
}

// NoopNotifier discards all hints.
type NoopNotifier struct{}

func (NoopNotifier) ProactiveHint(context.Context, string, string, string) error { return nil }

// Config tunes the pool.
type Config struct {
	// MaintenanceSchedule is a cron expression for the periodic memory
	// sweep (intention surfacing for recently active users). Empty
	// disables the sweep.
	MaintenanceSchedule string

	// SentimentModel and PersonalityModel are low-tier model ids; empty
	// disables the corresponding task.
	SentimentModel   string
	PersonalityModel string
}

// Task is the bookkeeping handed over after a response's terminal
// event.
type Task struct {
	SessionID        string
	UserID           string
	UserIDs          []string
	ProjectID        string
	Channel          string
	UserContent      string
	AssistantContent string
	MemoryIDs        []string
}

// Pool owns the detached task set and the maintenance schedule.
type Pool struct {
	memory   memory.Client
	provider agent.Provider
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	wg   sync.WaitGroup
	cron *cron.Cron

	mu         sync.Mutex
	sentiments map[string]string    // user id -> last observed sentiment
	active     map[string]time.Time // user id -> last response time
}

// NewPool builds the pool. provider may be nil (disables the LLM-driven
// tasks); notifier may be nil.
func NewPool(mem memory.Client, provider agent.Provider, notifier Notifier, cfg Config, logger *slog.Logger) *Pool {
	if mem == nil {
		mem = memory.NoopClient{}
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		memory:     mem,
		provider:   provider,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With("component", "worker"),
		sentiments: make(map[string]string),
		active:     make(map[string]time.Time),
	}
}

// Start installs the maintenance schedule, if configured.
func (p *Pool) Start() error {
	if p.cfg.MaintenanceSchedule == "" {
		return nil
	}
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.cfg.MaintenanceSchedule, p.maintenance)
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// AfterResponse launches the detached task set for one completed
// response and returns immediately.
func (p *Pool) AfterResponse(task Task) {
	p.mu.Lock()
	p.active[task.UserID] = time.Now()
	p.mu.Unlock()

	p.spawn("memory_extraction", func(ctx context.Context) error {
		return p.memory.Add(ctx, task.UserID, task.ProjectID, []memory.Turn{
			{Role: "user", Content: task.UserContent},
			{Role: "assistant", Content: task.AssistantContent},
		})
	})

	p.spawn("reinforcement", func(ctx context.Context) error {
		return p.memory.Reinforce(ctx, task.MemoryIDs)
	})

	if p.provider != nil && p.cfg.SentimentModel != "" {
		p.spawn("sentiment", func(ctx context.Context) error {
			return p.trackSentiment(ctx, task)
		})
	}

	if p.provider != nil && p.cfg.PersonalityModel != "" && rand.Float64() < personalityChance {
		p.spawn("personality", func(ctx context.Context) error {
			return p.evolvePersonality(ctx, task)
		})
	}
}

// Drain waits for outstanding tasks up to the deadline and stops the
// maintenance schedule. Called on shutdown before plugin servers stop,
// since tasks may still call tools.
func (p *Pool) Drain(timeout time.Duration) {
	if p.cron != nil {
		p.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("background tasks still running at drain deadline", "timeout", timeout)
	}
}

// Sentiment returns the last observed sentiment for a user, if any.
func (p *Pool) Sentiment(userID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sentiments[userID]
	return s, ok
}

func (p *Pool) spawn(name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			p.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func (p *Pool) trackSentiment(ctx context.Context, task Task) error {
	reply, err := p.completeText(ctx, p.cfg.SentimentModel,
		"Classify the emotional tone of the user's message. Reply with one word: positive, negative, neutral, frustrated, or excited.",
		task.UserContent)
	if err != nil {
		return err
	}

	sentiment := strings.ToLower(strings.TrimSpace(reply))
	p.mu.Lock()
	p.sentiments[task.UserID] = sentiment
	p.mu.Unlock()
	p.logger.Debug("sentiment tracked", "user", task.UserID, "sentiment", sentiment)

	if sentiment == "frustrated" || sentiment == "negative" {
		return p.notifier.ProactiveHint(ctx, task.UserID, task.Channel, "sentiment:"+sentiment)
	}
	return nil
}

func (p *Pool) evolvePersonality(ctx context.Context, task Task) error {
	reply, err := p.completeText(ctx, p.cfg.PersonalityModel,
		"Given this exchange, suggest at most one small durable adjustment to the assistant's conversational style, or reply \"none\".",
		"User: "+task.UserContent+"\nAssistant: "+task.AssistantContent)
	if err != nil {
		return err
	}

	suggestion := strings.TrimSpace(reply)
	if suggestion == "" || strings.EqualFold(suggestion, "none") {
		return nil
	}
	p.logger.Info("personality adjustment suggested", "user", task.UserID, "suggestion", suggestion)
	return p.memory.Add(ctx, task.UserID, "", []memory.Turn{
		{Role: "system", Content: "style note: " + suggestion},
	})
}

// maintenance surfaces due intentions for users active since the last
// sweep, then forgets users idle past the window.
func (p *Pool) maintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	p.mu.Lock()
	users := make([]string, 0, len(p.active))
	for id, seen := range p.active {
		if time.Since(seen) > 24*time.Hour {
			delete(p.active, id)
			continue
		}
		users = append(users, id)
	}
	p.mu.Unlock()

	for _, userID := range users {
		intentions, err := p.memory.ActiveIntentions(ctx, []string{userID})
		if err != nil {
			p.logger.Warn("maintenance intention fetch failed", "user", userID, "error", err)
			continue
		}
		for _, intention := range intentions {
			if err := p.notifier.ProactiveHint(ctx, userID, "", "intention:"+intention.Content); err != nil {
				p.logger.Warn("proactive hint failed", "user", userID, "error", err)
			}
		}
	}
}

func (p *Pool) completeText(ctx context.Context, model, system, user string) (string, error) {
	chunks, err := p.provider.Complete(ctx, &agent.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: user}},
		MaxTokens: 100,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}
