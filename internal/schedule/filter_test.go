package schedule

import (
	"testing"

	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/config"
)

func refs(specs ...string) []chat.ConversationRef {
	out := make([]chat.ConversationRef, len(specs))
	for i, s := range specs {
		ref, err := chat.ParseRef(s)
		if err != nil {
			panic(err)
		}
		out[i] = ref
	}
	return out
}

func TestEnabled(t *testing.T) {
	if Enabled(config.FilterModeWhitelist, nil) {
		t.Error("empty whitelist must disable the schedule")
	}
	if !Enabled(config.FilterModeWhitelist, refs("group:1")) {
		t.Error("non-empty whitelist should enable")
	}
	if !Enabled(config.FilterModeBlacklist, nil) {
		t.Error("empty blacklist should enable (allow everything)")
	}
}

func TestResolve_WhitelistEmptyIsNoop(t *testing.T) {
	active := refs("group:1", "group:2")
	if got := Resolve(config.FilterModeWhitelist, nil, active); len(got) != 0 {
		t.Errorf("empty whitelist resolved %v, want none", got)
	}
}

func TestResolve_WhitelistIntersectsActive(t *testing.T) {
	active := refs("group:1", "group:2", "private:7")
	targets := refs("group:2", "private:7", "group:999")

	got := Resolve(config.FilterModeWhitelist, targets, active)
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 candidates", got)
	}
	want := map[string]bool{"group:2": true, "private:7": true}
	for _, ref := range got {
		if !want[ref.String()] {
			t.Errorf("unexpected candidate %s", ref)
		}
	}
}

func TestResolve_BlacklistSubtracts(t *testing.T) {
	active := refs("group:1", "group:2", "private:7")
	targets := refs("group:2")

	got := Resolve(config.FilterModeBlacklist, targets, active)
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 candidates", got)
	}
	for _, ref := range got {
		if ref.String() == "group:2" {
			t.Error("blacklisted conversation must be excluded")
		}
	}
}

func TestResolve_BlacklistEmptyMeansAll(t *testing.T) {
	active := refs("group:1", "private:7")
	got := Resolve(config.FilterModeBlacklist, nil, active)
	if len(got) != len(active) {
		t.Errorf("got %v, want all active", got)
	}
}

func TestResolve_WhitelistBlacklistPartition(t *testing.T) {
	// For any target set, whitelist(T) and blacklist(T) over the same
	// active set partition it exactly.
	active := refs("group:1", "group:2", "group:3", "private:7", "private:8")
	targets := refs("group:2", "private:7", "group:999")

	white := Resolve(config.FilterModeWhitelist, targets, active)
	black := Resolve(config.FilterModeBlacklist, targets, active)

	if len(white)+len(black) != len(active) {
		t.Fatalf("partition sizes %d+%d != %d", len(white), len(black), len(active))
	}
	seen := map[string]int{}
	for _, ref := range white {
		seen[ref.String()]++
	}
	for _, ref := range black {
		seen[ref.String()]++
	}
	for _, ref := range active {
		if seen[ref.String()] != 1 {
			t.Errorf("%s appears %d times across the partition", ref, seen[ref.String()])
		}
	}
}

func TestResolveManual_FromGroup(t *testing.T) {
	active := refs("group:1", "group:2", "private:7")
	from := chat.GroupRef("2")

	got := ResolveManual(from, active)
	if len(got) != 1 || got[0] != from {
		t.Errorf("manual from group = %v, want exactly the invoking conversation", got)
	}
}

func TestResolveManual_FromPrivateBypassesFilter(t *testing.T) {
	active := refs("group:1", "group:2", "private:7")
	got := ResolveManual(chat.PrivateRef("7"), active)
	if len(got) != len(active) {
		t.Errorf("manual from private = %v, want the full active set", got)
	}
}
