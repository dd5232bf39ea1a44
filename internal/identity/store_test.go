package identity

import (
	"context"
	"sort"
	"testing"
)

func TestUnlinkedIDFallsBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ids, err := store.AllLinkedIDs(ctx, "discord:42")
	if err != nil {
		t.Fatalf("AllLinkedIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "discord:42" {
		t.Errorf("ids = %v, want the input alone", ids)
	}

	canonical, _ := store.Canonical(ctx, "discord:42")
	if canonical != "discord:42" {
		t.Errorf("canonical = %q, want input unchanged", canonical)
	}
}

func TestLinkedIDsExpand(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Link(ctx, "user-1", "discord:42")
	store.Link(ctx, "user-1", "telegram:99")

	ids, err := store.AllLinkedIDs(ctx, "telegram:99")
	if err != nil {
		t.Fatalf("AllLinkedIDs: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "discord:42" || ids[1] != "telegram:99" {
		t.Errorf("ids = %v", ids)
	}
}

func TestConflictingLinkRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Link(ctx, "user-1", "discord:42")
	if err := store.Link(ctx, "user-2", "discord:42"); err == nil {
		t.Error("expected error linking an id to a second canonical user")
	}
}
