package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Tier is a coarse capability class mapped to a concrete model.
type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"
)

// ParseTier accepts the three tier names, case-insensitively.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierLow:
		return TierLow, true
	case TierMid:
		return TierMid, true
	case TierHigh:
		return TierHigh, true
	}
	return "", false
}

// TierTable maps tiers to model identifiers.
type TierTable struct {
	Low  string
	Mid  string
	High string
}

// Model returns the model for a tier, falling back to mid.
func (t TierTable) Model(tier Tier) string {
	switch tier {
	case TierLow:
		if t.Low != "" {
			return t.Low
		}
	case TierHigh:
		if t.High != "" {
			return t.High
		}
	}
	return t.Mid
}

const classifyPrompt = `Classify the complexity of the user's latest request given the recent conversation.
Reply with exactly one word:
low - greetings, acknowledgements, simple factual questions
mid - ordinary conversation, summaries, single-step tool use
high - multi-step reasoning, code generation, research, anything requiring careful work
`

const classifyHistoryWindow = 4

// TierResolver picks the model tier for a request. An explicit override
// wins; otherwise a cheap classification call over the recent history
// decides, defaulting to mid when classification is disabled or fails.
type TierResolver struct {
	provider Provider
	table    TierTable
	auto     bool
	logger   *slog.Logger
}

func NewTierResolver(provider Provider, table TierTable, auto bool, logger *slog.Logger) *TierResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierResolver{
		provider: provider,
		table:    table,
		auto:     auto,
		logger:   logger.With("component", "tier"),
	}
}

// Resolve returns the tier and the model to use for it.
func (r *TierResolver) Resolve(ctx context.Context, override string, history []CompletionMessage) (Tier, string) {
	if tier, ok := ParseTier(override); ok {
		return tier, r.table.Model(tier)
	}
	if !r.auto || r.provider == nil {
		return TierMid, r.table.Model(TierMid)
	}

	tier, err := r.classify(ctx, history)
	if err != nil {
		r.logger.Warn("tier classification failed, using mid", "error", err)
		tier = TierMid
	}
	return tier, r.table.Model(tier)
}

func (r *TierResolver) classify(ctx context.Context, history []CompletionMessage) (Tier, error) {
	window := history
	if len(window) > classifyHistoryWindow {
		window = window[len(window)-classifyHistoryWindow:]
	}

	var transcript strings.Builder
	for _, msg := range window {
		content := msg.Content
		if len(content) > 500 {
			content = content[:500]
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, content)
	}

	chunks, err := r.provider.Complete(ctx, &CompletionRequest{
		Model:  r.table.Model(TierLow),
		System: classifyPrompt,
		Messages: []CompletionMessage{
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return TierMid, err
	}

	var reply strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return TierMid, chunk.Error
		}
		reply.WriteString(chunk.Text)
	}

	if tier, ok := ParseTier(reply.String()); ok {
		return tier, nil
	}
	r.logger.Debug("unparseable tier reply, using mid", "reply", reply.String())
	return TierMid, nil
}
