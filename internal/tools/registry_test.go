package tools

import (
	"context"
	"testing"

	"github.com/clarahq/clara/pkg/models"
)

func noopHandler(ctx context.Context, inv Invocation) (string, error) {
	return "ok", nil
}

func TestRegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&Definition{Name: "alpha", Handler: noopHandler})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := registry.Get("alpha"); !ok {
		t.Error("registered tool not found")
	}
	if _, ok := registry.Get("beta"); ok {
		t.Error("unregistered tool found")
	}
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	registry := NewRegistry()

	registry.Register(&Definition{Name: "alpha", Handler: noopHandler})
	if err := registry.Register(&Definition{Name: "alpha", Handler: noopHandler}); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := registry.Register(&Definition{Handler: noopHandler}); err == nil {
		t.Error("empty name should fail")
	}
	if err := registry.Register(&Definition{Name: "beta"}); err == nil {
		t.Error("nil handler should fail")
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		registry.Register(&Definition{Name: name, Handler: noopHandler})
	}

	list := registry.List()
	if len(list) != 3 || list[0].Name != "c" || list[1].Name != "a" || list[2].Name != "b" {
		t.Errorf("order wrong: %v", list)
	}
}

func TestForNodeFiltersPlatformAndCapabilities(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Definition{Name: "everywhere", Handler: noopHandler})
	registry.Register(&Definition{
		Name:      "discord_only",
		Handler:   noopHandler,
		Platforms: []string{"discord"},
	})
	registry.Register(&Definition{
		Name:     "needs_embeds",
		Handler:  noopHandler,
		Requires: []models.Capability{models.CapEmbeds},
	})

	names := func(defs []*Definition) map[string]bool {
		out := map[string]bool{}
		for _, d := range defs {
			out[d.Name] = true
		}
		return out
	}

	got := names(registry.ForNode("telegram", nil))
	if !got["everywhere"] || got["discord_only"] || got["needs_embeds"] {
		t.Errorf("telegram set = %v", got)
	}

	got = names(registry.ForNode("discord", []models.Capability{models.CapEmbeds}))
	if !got["everywhere"] || !got["discord_only"] || !got["needs_embeds"] {
		t.Errorf("discord set = %v", got)
	}
}
