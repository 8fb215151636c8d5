package channel

import (
	"context"

	"github.com/mogumoto/diaryd/internal/bus"
)

// Channel is one host-platform adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(msg bus.OutboundMessage) error
	Stop() error
}

// BaseChannel carries the bits every adapter shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	var allowed map[string]struct{}
	if len(allowFrom) > 0 {
		allowed = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			allowed[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether a sender passes the channel-level filter.
// An empty filter allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if c.allowFrom == nil {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
