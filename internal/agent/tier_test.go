package agent

import (
	"context"
	"strings"
	"testing"
)

func TestParseTier(t *testing.T) {
	cases := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{"low", TierLow, true},
		{" HIGH ", TierHigh, true},
		{"Mid", TierMid, true},
		{"medium", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseTier(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseTier(%q) = %q, %v", tc.in, got, ok)
		}
	}
}

func TestTierTableFallsBackToMid(t *testing.T) {
	table := TierTable{Mid: "mid-model"}
	if table.Model(TierLow) != "mid-model" || table.Model(TierHigh) != "mid-model" {
		t.Error("empty tiers should fall back to mid")
	}

	full := TierTable{Low: "l", Mid: "m", High: "h"}
	if full.Model(TierLow) != "l" || full.Model(TierHigh) != "h" || full.Model(TierMid) != "m" {
		t.Error("explicit tiers not honored")
	}
}

func TestResolveOverrideSkipsClassification(t *testing.T) {
	provider := &fakeProvider{} // any call would fail: script is empty
	resolver := NewTierResolver(provider, TierTable{Low: "l", Mid: "m", High: "h"}, true, nil)

	tier, model := resolver.Resolve(context.Background(), "high", nil)
	if tier != TierHigh || model != "h" {
		t.Errorf("tier = %q model = %q", tier, model)
	}
	if len(provider.requests) != 0 {
		t.Error("override should not trigger a classification call")
	}
}

func TestResolveClassifies(t *testing.T) {
	provider := &fakeProvider{turns: []scriptedTurn{{text: []string{"high"}}}}
	resolver := NewTierResolver(provider, TierTable{Low: "l", Mid: "m", High: "h"}, true, nil)

	history := []CompletionMessage{
		{Role: "user", Content: "old 1"},
		{Role: "assistant", Content: "old 2"},
		{Role: "user", Content: "old 3"},
		{Role: "assistant", Content: "old 4"},
		{Role: "user", Content: "refactor this whole package"},
	}
	tier, model := resolver.Resolve(context.Background(), "", history)
	if tier != TierHigh || model != "h" {
		t.Errorf("tier = %q model = %q", tier, model)
	}

	// Classification runs on the low-tier model.
	if provider.requests[0].Model != "l" {
		t.Errorf("classification model = %q", provider.requests[0].Model)
	}
	// Only the trailing window of the history is sent.
	sent := provider.requests[0].Messages[0].Content
	if len(sent) == 0 {
		t.Fatal("empty classification transcript")
	}
	if strings.Contains(sent, "old 1") {
		t.Errorf("transcript should drop the oldest turn: %q", sent)
	}
	if !strings.Contains(sent, "refactor this whole package") {
		t.Errorf("transcript missing latest turn: %q", sent)
	}
}

func TestResolveDefaultsToMid(t *testing.T) {
	// Classification disabled.
	resolver := NewTierResolver(nil, TierTable{Mid: "m"}, false, nil)
	if tier, _ := resolver.Resolve(context.Background(), "", nil); tier != TierMid {
		t.Errorf("tier = %q", tier)
	}

	// Classification fails.
	provider := &fakeProvider{} // empty script: Complete errors
	resolver = NewTierResolver(provider, TierTable{Mid: "m"}, true, nil)
	if tier, _ := resolver.Resolve(context.Background(), "", nil); tier != TierMid {
		t.Errorf("tier = %q", tier)
	}

	// Unparseable reply.
	provider = &fakeProvider{turns: []scriptedTurn{{text: []string{"dunno"}}}}
	resolver = NewTierResolver(provider, TierTable{Mid: "m"}, true, nil)
	if tier, _ := resolver.Resolve(context.Background(), "", nil); tier != TierMid {
		t.Errorf("tier = %q", tier)
	}
}
