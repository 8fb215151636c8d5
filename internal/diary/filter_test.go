package diary

import (
	"errors"
	"testing"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

func makeMessages(conv chat.ConversationRef, n int) []chat.Message {
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	msgs := make([]chat.Message, n)
	for i := range msgs {
		msgs[i] = chat.Message{
			Conv:      conv,
			SenderID:  "u1",
			Nickname:  "alice",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Text:      "message",
		}
	}
	return msgs
}

func TestFilterEligible_PerChatThenAggregate(t *testing.T) {
	// A has 2, B has 5, thresholds 3/3. A is excluded, B alone
	// satisfies the aggregate.
	a := chat.GroupRef("A")
	b := chat.GroupRef("B")
	byConv := map[chat.ConversationRef][]chat.Message{
		a: makeMessages(a, 2),
		b: makeMessages(b, 5),
	}

	kept, decisions, err := FilterEligible(byConv, Thresholds{MinPerChat: 3, MinTotal: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("kept %d conversations, want 1", len(kept))
	}
	if _, ok := kept[b]; !ok {
		t.Error("B should be kept")
	}
	if _, ok := kept[a]; ok {
		t.Error("A should be excluded")
	}

	if len(decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(decisions))
	}
	for _, d := range decisions {
		switch d.Conv {
		case a:
			if d.Included {
				t.Error("A decision should be excluded")
			}
		case b:
			if !d.Included {
				t.Error("B decision should be included")
			}
		}
	}
}

func TestFilterEligible_AggregateFails(t *testing.T) {
	a := chat.GroupRef("A")
	b := chat.PrivateRef("B")
	byConv := map[chat.ConversationRef][]chat.Message{
		a: makeMessages(a, 3),
		b: makeMessages(b, 2),
	}

	_, _, err := FilterEligible(byConv, Thresholds{MinPerChat: 3, MinTotal: 10})
	var insuff *InsufficientMessagesError
	if !errors.As(err, &insuff) {
		t.Fatalf("expected InsufficientMessagesError, got %v", err)
	}
	if insuff.Total != 3 {
		t.Errorf("eligible total = %d, want 3 (B must not partially contribute)", insuff.Total)
	}
	if insuff.Counts["group:A"] != 3 || insuff.Counts["private:B"] != 2 {
		t.Errorf("counts should cover all conversations: %v", insuff.Counts)
	}
}

func TestFilterEligible_BelowPerChatNeverContributes(t *testing.T) {
	// Three conversations of 2 messages each sum to 6, but none passes
	// the per-chat gate, so the aggregate sees zero.
	byConv := map[chat.ConversationRef][]chat.Message{}
	for _, id := range []string{"1", "2", "3"} {
		ref := chat.GroupRef(id)
		byConv[ref] = makeMessages(ref, 2)
	}

	_, _, err := FilterEligible(byConv, Thresholds{MinPerChat: 3, MinTotal: 5})
	var insuff *InsufficientMessagesError
	if !errors.As(err, &insuff) {
		t.Fatalf("expected InsufficientMessagesError, got %v", err)
	}
	if insuff.Total != 0 {
		t.Errorf("eligible total = %d, want 0", insuff.Total)
	}
}

func TestFilterEligible_Empty(t *testing.T) {
	_, _, err := FilterEligible(nil, Thresholds{MinPerChat: 3, MinTotal: 3})
	var insuff *InsufficientMessagesError
	if !errors.As(err, &insuff) {
		t.Fatalf("expected InsufficientMessagesError, got %v", err)
	}
}

func TestFilterEligible_ZeroThresholds(t *testing.T) {
	kept, _, err := FilterEligible(nil, Thresholds{})
	if err != nil {
		t.Fatalf("zero thresholds should pass even empty input: %v", err)
	}
	if len(kept) != 0 {
		t.Errorf("kept = %v, want empty", kept)
	}
}
