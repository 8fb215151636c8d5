package diary

import (
	"strings"
	"testing"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"abcd", 1},           // 4 other runes
		{"abcdefgh", 2},       // 8 other runes
		{"你好你", 2},            // 3 CJK runes / 1.5
		{strings.Repeat("你", 15), 10},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.input); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	base := "hello world 你好"
	prev := EstimateTokens(base)
	for i := 0; i < 20; i++ {
		base += " more text 更多"
		cur := EstimateTokens(base)
		if cur < prev {
			t.Fatalf("estimate decreased after append: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func timedMessages(conv chat.ConversationRef, n, textRunes int) []chat.Message {
	base := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	msgs := make([]chat.Message, n)
	for i := range msgs {
		msgs[i] = chat.Message{
			Conv:      conv,
			Nickname:  "alice",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Text:      strings.Repeat("a", textRunes),
		}
	}
	return msgs
}

func TestTruncateToBudget_FittingInputUnchanged(t *testing.T) {
	msgs := timedMessages(chat.GroupRef("1"), 5, 20)
	tr := TruncateToBudget(msgs, 10000, time.UTC)

	if tr.Truncated {
		t.Error("fitting input should not be marked truncated")
	}
	if strings.Contains(tr.Text, truncationMarker) {
		t.Error("fitting input should not carry the truncation marker")
	}
	if tr.Text != BuildTimeline(msgs, time.UTC) {
		t.Error("fitting input content should be unchanged")
	}

	// Idempotence: truncating the already-fitting set again changes nothing.
	again := TruncateToBudget(msgs, 10000, time.UTC)
	if again.Text != tr.Text || again.Truncated {
		t.Error("truncation should be idempotent on fitting input")
	}
}

func TestTruncateToBudget_NeverExceedsBudget(t *testing.T) {
	budgets := []int{100, 500, 2000}
	msgs := timedMessages(chat.GroupRef("1"), 400, 90)
	for _, budget := range budgets {
		tr := TruncateToBudget(msgs, budget, time.UTC)
		if tr.EstimatedTokens > budget {
			t.Errorf("budget %d: estimate %d exceeds budget", budget, tr.EstimatedTokens)
		}
		if !tr.Truncated {
			t.Errorf("budget %d: expected truncation", budget)
		}
		if !strings.Contains(tr.Text, truncationMarker) {
			t.Errorf("budget %d: missing truncation marker", budget)
		}
	}
}

func TestTruncateToBudget_RetainsNewest(t *testing.T) {
	conv := chat.GroupRef("1")
	msgs := timedMessages(conv, 50, 80)
	msgs[len(msgs)-1].Text = "THE-NEWEST-MESSAGE"

	tr := TruncateToBudget(msgs, 60, time.UTC)
	if !strings.Contains(tr.Text, "THE-NEWEST-MESSAGE") {
		t.Errorf("newest message dropped:\n%s", tr.Text)
	}
}

func TestTruncateToBudget_BiasTowardRecent(t *testing.T) {
	conv := chat.GroupRef("1")
	msgs := timedMessages(conv, 100, 80)
	msgs[0].Text = "OLDEST-MESSAGE"
	msgs[99].Text = "NEWEST-MESSAGE"

	tr := TruncateToBudget(msgs, 500, time.UTC)
	if strings.Contains(tr.Text, "OLDEST-MESSAGE") {
		t.Error("oldest message should be dropped first")
	}
	if !strings.Contains(tr.Text, "NEWEST-MESSAGE") {
		t.Error("newest message should be retained")
	}
}

func TestTruncateToBudget_LargeOverBudgetExample(t *testing.T) {
	// A transcript estimated well above the default budget must come
	// back at or under 126000 with the truncated flag set.
	msgs := timedMessages(chat.GroupRef("1"), 7000, 90)
	if est := EstimateTokens(BuildTimeline(msgs, time.UTC)); est < 130000 {
		t.Fatalf("fixture too small: estimate %d", est)
	}

	tr := TruncateToBudget(msgs, 126000, time.UTC)
	if tr.EstimatedTokens > 126000 {
		t.Errorf("estimate %d exceeds 126000", tr.EstimatedTokens)
	}
	if !tr.Truncated {
		t.Error("expected truncated=true")
	}
}

func TestTruncateToBudget_Empty(t *testing.T) {
	tr := TruncateToBudget(nil, 1000, time.UTC)
	if tr.Truncated {
		t.Error("empty input should not be truncated")
	}
	if tr.Text != emptyTimeline {
		t.Errorf("empty input text = %q", tr.Text)
	}
}

func TestTruncateToBudget_Convs(t *testing.T) {
	g := chat.GroupRef("100")
	p := chat.PrivateRef("7")
	msgs := append(timedMessages(g, 3, 10), chat.Message{
		Conv: p, Nickname: "b",
		Timestamp: time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC),
		Text:      "late",
	})

	tr := TruncateToBudget(msgs, 10000, time.UTC)
	if len(tr.Convs) != 2 {
		t.Errorf("convs = %v, want both conversations", tr.Convs)
	}
}
