package chat

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindGroup   = "group"
	KindPrivate = "private"
)

// ConversationRef identifies one conversation on the host platform.
// The canonical string form "kind:id" is used as the identity key
// everywhere (config target lists, diary scopes, archive rows).
type ConversationRef struct {
	Kind string
	ID   string
}

func GroupRef(id string) ConversationRef {
	return ConversationRef{Kind: KindGroup, ID: id}
}

func PrivateRef(id string) ConversationRef {
	return ConversationRef{Kind: KindPrivate, ID: id}
}

func (r ConversationRef) String() string {
	return r.Kind + ":" + r.ID
}

func (r ConversationRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// ParseRef parses the canonical "kind:id" encoding.
func ParseRef(s string) (ConversationRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return ConversationRef{}, fmt.Errorf("invalid conversation ref %q: want kind:id", s)
	}
	switch kind {
	case KindGroup, KindPrivate:
	default:
		return ConversationRef{}, fmt.Errorf("invalid conversation ref %q: unknown kind %q", s, kind)
	}
	return ConversationRef{Kind: kind, ID: id}, nil
}

// Message is one archived chat message. Immutable once fetched.
type Message struct {
	Conv      ConversationRef
	SenderID  string
	Nickname  string
	FromBot   bool
	Timestamp time.Time
	Text      string
}
