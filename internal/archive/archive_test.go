package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndFetch(t *testing.T) {
	s := newTestStore(t)
	conv := chat.GroupRef("100")
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.Record(chat.Message{
			Conv:      conv,
			SenderID:  "u1",
			Nickname:  "alice",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Text:      "hello",
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	msgs, err := s.MessagesBetween(conv, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Nickname != "alice" || msgs[0].Text != "hello" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if !msgs[0].Timestamp.Before(msgs[2].Timestamp) {
		t.Error("messages should be ordered oldest first")
	}
}

func TestMessagesBetween_WindowBounds(t *testing.T) {
	s := newTestStore(t)
	conv := chat.PrivateRef("7")
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	times := []time.Time{
		day.Add(-time.Minute),     // before window
		day,                       // inclusive start
		day.Add(12 * time.Hour),   // inside
		day.Add(24 * time.Hour),   // exclusive end
	}
	for i, ts := range times {
		if err := s.Record(chat.Message{Conv: conv, SenderID: "u", Timestamp: ts, Text: "m"}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	msgs, err := s.MessagesBetween(conv, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages in window, want 2", len(msgs))
	}
}

func TestActiveConversations(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	msgs := []chat.Message{
		{Conv: chat.GroupRef("100"), SenderID: "a", Timestamp: day.Add(time.Hour), Text: "x"},
		{Conv: chat.GroupRef("100"), SenderID: "b", Timestamp: day.Add(2 * time.Hour), Text: "y"},
		{Conv: chat.PrivateRef("7"), SenderID: "c", Timestamp: day.Add(3 * time.Hour), Text: "z"},
		{Conv: chat.GroupRef("200"), SenderID: "d", Timestamp: day.Add(-time.Hour), Text: "old"},
	}
	for _, m := range msgs {
		if err := s.Record(m); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	refs, err := s.ActiveConversations(day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d active conversations, want 2: %v", len(refs), refs)
	}
	if refs[0].String() != "group:100" || refs[1].String() != "private:7" {
		t.Errorf("unexpected refs: %v", refs)
	}
}

func TestMessagesBetween_FromBotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	conv := chat.GroupRef("1")
	ts := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	if err := s.Record(chat.Message{Conv: conv, SenderID: "bot", FromBot: true, Timestamp: ts, Text: "reply"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs, err := s.MessagesBetween(conv, ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].FromBot {
		t.Fatalf("FromBot flag lost: %+v", msgs)
	}
}
