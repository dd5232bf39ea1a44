// Package prompt assembles the message list for one request: durable
// history, semantic memories, ambient context, and the current user
// turn.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/identity"
	"github.com/clarahq/clara/internal/memory"
	"github.com/clarahq/clara/internal/sessions"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

// summaryFallbackDepth bounds how many prior linked sessions are
// walked looking for a rolling summary.
const summaryFallbackDepth = 3

// Builder prepares prompts. All memory-engine reads are best-effort:
// failures are logged and yield empty sections.
type Builder struct {
	sessions sessions.Store
	identity identity.Store
	memory   memory.Client
	persona  string
	logger   *slog.Logger
}

func NewBuilder(store sessions.Store, ident identity.Store, mem memory.Client, persona string, logger *slog.Logger) *Builder {
	if persona == "" {
		persona = DefaultPersona
	}
	if mem == nil {
		mem = memory.NoopClient{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		sessions: store,
		identity: ident,
		memory:   mem,
		persona:  persona,
		logger:   logger.With("component", "prompt"),
	}
}

// Input is one build request.
type Input struct {
	Request      *models.Request
	ProjectID    string
	Tools        []tools.SchemaEntry
	HistoryLimit int
}

// Result is the assembled prompt plus the bookkeeping the processor
// needs afterwards.
type Result struct {
	SessionID string

	// System is the ordered system sections joined into one prompt.
	System string

	// Messages is the history, spliced reply chain, and current turn.
	Messages []agent.CompletionMessage

	// UserContent is the assembled current-turn text, as persisted.
	UserContent string

	// UserIDs is the cross-platform identity union for this user.
	UserIDs []string

	// MemoryIDs identifies retrieved memories for later reinforcement.
	MemoryIDs []string
}

// Build runs session resolution, history fetch, semantic fetch, and
// prompt assembly. Only session resolution can fail the build.
func (b *Builder) Build(ctx context.Context, in *Input) (*Result, error) {
	req := in.Request

	session, err := b.sessions.Resolve(ctx, req.User.ID, req.ContextID(), in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	limit := in.HistoryLimit
	if limit <= 0 {
		limit = sessions.DefaultHistoryLimit
	}
	history, err := b.sessions.History(ctx, session.ID, limit)
	if err != nil {
		b.logger.Warn("history fetch failed", "session", session.ID, "error", err)
		history = nil
	}

	userContent := AssembleUserContent(req)
	userIDs := b.linkedIDs(ctx, req.User.ID)

	search := b.search(ctx, userContent, userIDs, in.ProjectID)
	moments := b.emotionalContext(ctx, userIDs)
	topics := b.recurringTopics(ctx, userIDs)
	intentions := b.activeIntentions(ctx, userIDs)
	summary := b.resolveSummary(ctx, session)

	var system []string
	system = append(system, b.persona+"\n\n"+capabilityInventory(in.Tools))
	if ctxSection := contextSection(search, moments, topics, summary); ctxSection != "" {
		system = append(system, ctxSection)
	}
	system = append(system, gatewaySection(req))
	if len(intentions) > 0 {
		system = append(system, intentionsSection(intentions))
	}

	var msgs []agent.CompletionMessage
	for _, m := range history {
		msgs = append(msgs, historyMessage(m))
	}
	for _, ref := range req.ReplyChain {
		// Embed-only or attachment-only referenced messages carry no text.
		if strings.TrimSpace(ref.Content) == "" {
			continue
		}
		msgs = append(msgs, replyMessage(ref))
	}
	msgs = append(msgs, agent.CompletionMessage{
		Role:        "user",
		Content:     userContent,
		Attachments: imageAttachments(req.Attachments),
	})

	return &Result{
		SessionID:   session.ID,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		UserContent: userContent,
		UserIDs:     userIDs,
		MemoryIDs:   search.MemoryIDs,
	}, nil
}

// AssembleUserContent turns a request into the text persisted and sent
// as the current user turn: raw text, inlined text attachments, a
// placeholder when there is no text, and a speaker prefix outside DMs.
func AssembleUserContent(req *models.Request) string {
	content := req.Content
	if strings.TrimSpace(content) == "" && len(req.Attachments) > 0 {
		content = fmt.Sprintf("[User sent file(s): %s]", req.AttachmentNames())
	}

	var sb strings.Builder
	sb.WriteString(content)
	for _, att := range req.Attachments {
		if att.Kind != models.AttachmentText || att.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n--- Attached file: %s ---\n%s\n--- End of %s ---",
			att.Filename, att.Content, att.Filename)
	}

	out := sb.String()
	if req.Channel.Type != models.ChannelDM && req.User.Label() != "" {
		out = fmt.Sprintf("[%s]: %s", req.User.Label(), out)
	}
	return out
}

func (b *Builder) linkedIDs(ctx context.Context, userID string) []string {
	if b.identity == nil {
		return []string{userID}
	}
	ids, err := b.identity.AllLinkedIDs(ctx, userID)
	if err != nil || len(ids) == 0 {
		if err != nil {
			b.logger.Warn("identity lookup failed", "user", userID, "error", err)
		}
		return []string{userID}
	}
	return ids
}

func (b *Builder) search(ctx context.Context, query string, userIDs []string, projectID string) *memory.SearchResult {
	result, err := b.memory.Search(ctx, query, userIDs, projectID)
	if err != nil || result == nil {
		if err != nil {
			b.logger.Warn("memory search failed", "error", err)
		}
		return &memory.SearchResult{}
	}
	return result
}

func (b *Builder) emotionalContext(ctx context.Context, userIDs []string) []memory.EmotionalMoment {
	moments, err := b.memory.EmotionalContext(ctx, userIDs)
	if err != nil {
		b.logger.Warn("emotional context fetch failed", "error", err)
		return nil
	}
	return moments
}

func (b *Builder) recurringTopics(ctx context.Context, userIDs []string) []memory.Topic {
	topics, err := b.memory.RecurringTopics(ctx, userIDs)
	if err != nil {
		b.logger.Warn("recurring topics fetch failed", "error", err)
		return nil
	}
	return topics
}

func (b *Builder) activeIntentions(ctx context.Context, userIDs []string) []memory.Intention {
	intentions, err := b.memory.ActiveIntentions(ctx, userIDs)
	if err != nil {
		b.logger.Warn("intentions fetch failed", "error", err)
		return nil
	}
	return intentions
}

// resolveSummary returns the session's rolling summary, walking prior
// linked sessions when the current one has none yet.
func (b *Builder) resolveSummary(ctx context.Context, session *models.Session) string {
	if session.Summary != "" {
		return session.Summary
	}
	prevID := session.PreviousSessionID
	for hop := 0; hop < summaryFallbackDepth && prevID != ""; hop++ {
		prev, err := b.sessions.Get(ctx, prevID)
		if err != nil {
			b.logger.Warn("summary fallback failed", "session", prevID, "error", err)
			return ""
		}
		if prev.Summary != "" {
			return prev.Summary
		}
		prevID = prev.PreviousSessionID
	}
	return ""
}

func contextSection(search *memory.SearchResult, moments []memory.EmotionalMoment, topics []memory.Topic, summary string) string {
	var parts []string

	if len(search.UserMemories) > 0 {
		parts = append(parts, listSection("What you remember about this user:", search.UserMemories))
	}
	if len(search.ProjectMemories) > 0 {
		parts = append(parts, listSection("Project notes:", search.ProjectMemories))
	}
	if len(search.Relations) > 0 {
		lines := make([]string, 0, len(search.Relations))
		for _, rel := range search.Relations {
			lines = append(lines, fmt.Sprintf("%s → %s → %s", rel.Source, rel.Relation, rel.Target))
		}
		parts = append(parts, listSection("Known relationships:", lines))
	}
	if len(moments) > 0 {
		lines := make([]string, 0, len(moments))
		for _, m := range moments {
			hint := m.When.Format("Jan 2")
			if m.Channel != "" {
				hint += " in " + m.Channel
			}
			lines = append(lines, fmt.Sprintf("(%s) %s", hint, m.Summary))
		}
		parts = append(parts, listSection("Recent emotional context:", lines))
	}
	if len(topics) > 0 {
		lines := make([]string, 0, len(topics))
		for _, topic := range topics {
			lines = append(lines, fmt.Sprintf("%s (mentioned %d times)", topic.Name, topic.Count))
		}
		parts = append(parts, listSection("Recurring topics lately:", lines))
	}
	if summary != "" {
		parts = append(parts, "Earlier in this conversation: "+opaque(summary))
	}

	return strings.Join(parts, "\n\n")
}

func listSection(title string, items []string) string {
	var sb strings.Builder
	sb.WriteString(title)
	for _, item := range items {
		sb.WriteString("\n- ")
		sb.WriteString(opaque(item))
	}
	return sb.String()
}

func gatewaySection(req *models.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current time: %s\n", time.Now().Format("Monday, January 2, 2006 15:04 MST"))
	fmt.Fprintf(&sb, "Platform: %s\n", req.Platform)

	switch req.Channel.Type {
	case models.ChannelDM:
		sb.WriteString("Channel: direct message\n")
	default:
		fmt.Fprintf(&sb, "Channel: %s", req.Channel.Name)
		if req.Channel.GuildName != "" {
			fmt.Fprintf(&sb, " (server: %s)", req.Channel.GuildName)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Speaking with: %s", req.User.Label())
	if participants := req.Metadata["participants"]; participants != "" {
		fmt.Fprintf(&sb, "\nOther participants: %s", participants)
	}
	if n := len(req.Attachments); n > 0 {
		fmt.Fprintf(&sb, "\nAttachments on this message: %d", n)
	}
	if req.IsVoice() {
		sb.WriteString("\nThis is a voice conversation: answer briefly in plain speakable sentences, no markdown, no lists.")
	}
	return sb.String()
}

func intentionsSection(intentions []memory.Intention) string {
	lines := make([]string, 0, len(intentions))
	for _, intention := range intentions {
		lines = append(lines, intention.Content)
	}
	return listSection("You previously meant to follow up on:", lines)
}

// historyMessage converts a stored message. User turns carry a
// timestamp prefix; assistant turns do not, so the model does not start
// mimicking the prefix format.
func historyMessage(m *models.Message) agent.CompletionMessage {
	if m.Role == models.RoleAssistant {
		return agent.CompletionMessage{Role: "assistant", Content: m.Content}
	}
	return agent.CompletionMessage{
		Role:    "user",
		Content: fmt.Sprintf("[%s] %s", m.CreatedAt.Format("2006-01-02 15:04"), m.Content),
	}
}

func replyMessage(ref models.ReplyRef) agent.CompletionMessage {
	if ref.IsBot {
		return agent.CompletionMessage{Role: "assistant", Content: ref.Content}
	}
	return agent.CompletionMessage{
		Role:    "user",
		Content: fmt.Sprintf("[%s]: %s", ref.Author, ref.Content),
	}
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
