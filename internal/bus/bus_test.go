package bus

import (
	"context"
	"testing"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "onebot", Conv: chat.GroupRef("42")}
	if got := msg.SessionKey(); got != "onebot:group:42" {
		t.Errorf("SessionKey = %q, want onebot:group:42", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("onebot", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "onebot", Conv: chat.PrivateRef("7"), Content: "hi"}

	select {
	case msg := <-got:
		if msg.Content != "hi" || msg.Conv.ID != "7" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestDispatchOutbound_NoSubscriber(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// Must not block or panic with no subscriber registered.
	b.Outbound <- OutboundMessage{Channel: "ghost", Content: "x"}
	time.Sleep(50 * time.Millisecond)
}
