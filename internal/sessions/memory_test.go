package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/clarahq/clara/pkg/models"
)

func TestResolveReusesLiveSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s1, err := store.Resolve(ctx, "u1", "dm-u1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s2, err := store.Resolve(ctx, "u1", "dm-u1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s1.ID != s2.ID {
		t.Errorf("expected same session, got %q and %q", s1.ID, s2.ID)
	}
	if s2.LastActivityAt.Before(s1.LastActivityAt) {
		t.Error("resolve should touch last activity")
	}
}

func TestResolveLinksAfterArchive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s1, _ := store.Resolve(ctx, "u1", "dm-u1", "")
	if err := store.Archive(ctx, s1.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	s2, err := store.Resolve(ctx, "u1", "dm-u1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s2.ID == s1.ID {
		t.Fatal("archived session must not be reused")
	}
	if s2.PreviousSessionID != s1.ID {
		t.Errorf("previous link = %q, want %q", s2.PreviousSessionID, s1.ID)
	}
}

func TestResolveKeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.Resolve(ctx, "u1", "dm-u1", "")
	b, _ := store.Resolve(ctx, "u1", "channel-c9", "")
	c, _ := store.Resolve(ctx, "u1", "dm-u1", "proj")
	if a.ID == b.ID || a.ID == c.ID {
		t.Error("distinct keys must yield distinct sessions")
	}
}

func TestAppendMessageInvariants(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AppendMessage(ctx, &models.Message{SessionID: "ghost", Role: models.RoleUser}); err != ErrSessionNotFound {
		t.Errorf("append to unknown session: %v, want ErrSessionNotFound", err)
	}

	s, _ := store.Resolve(ctx, "u1", "dm-u1", "")
	msg := &models.Message{SessionID: s.ID, UserID: "u1", Role: models.RoleUser, Content: "hi"}
	if err := store.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Error("append should assign id and timestamp")
	}
	if msg.CreatedAt.Before(s.CreatedAt) {
		t.Error("message created_at must not precede session created_at")
	}

	store.Archive(ctx, s.ID)
	err := store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleUser, Content: "late"})
	if err != ErrSessionArchived {
		t.Errorf("append to archived session: %v, want ErrSessionArchived", err)
	}
}

func TestHistoryChronologicalWithLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s, _ := store.Resolve(ctx, "u1", "dm-u1", "")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		store.AppendMessage(ctx, &models.Message{
			SessionID: s.ID,
			Role:      role,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	history, err := store.History(ctx, s.ID, 15)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 15 {
		t.Fatalf("len = %d, want 15", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Fatal("history not chronological")
		}
	}
	// The oldest five were dropped.
	if history[0].Content != string(rune('a'+5)) {
		t.Errorf("first = %q, want %q", history[0].Content, string(rune('a'+5)))
	}
}

func TestSetSummary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s, _ := store.Resolve(ctx, "u1", "dm-u1", "")
	if err := store.SetSummary(ctx, s.ID, "talked about gophers"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	got, _ := store.Get(ctx, s.ID)
	if got.Summary != "talked about gophers" {
		t.Errorf("summary = %q", got.Summary)
	}

	if err := store.SetSummary(ctx, "ghost", "x"); err != ErrSessionNotFound {
		t.Errorf("SetSummary unknown: %v, want ErrSessionNotFound", err)
	}
}
