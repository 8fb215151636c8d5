package bus

import (
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

type InboundMessage struct {
	Channel   string
	Conv      chat.ConversationRef
	SenderID  string
	Nickname  string
	FromBot   bool
	Content   string
	Timestamp time.Time
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.Conv.String()
}

type OutboundMessage struct {
	Channel string
	Conv    chat.ConversationRef
	Content string
}
