package schedule

import (
	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/config"
)

// Enabled reports whether a scheduled run does anything at all. An
// empty whitelist disables the schedule; that is distinct from
// allow-everything, which only an empty blacklist means.
func Enabled(mode string, targets []chat.ConversationRef) bool {
	if mode == config.FilterModeWhitelist && len(targets) == 0 {
		return false
	}
	return true
}

// Resolve returns the candidate set for a scheduled run.
// Whitelist: targets intersected with active. Blacklist: active minus
// targets, with an empty list meaning all active.
func Resolve(mode string, targets, active []chat.ConversationRef) []chat.ConversationRef {
	if !Enabled(mode, targets) {
		return nil
	}

	targetSet := make(map[chat.ConversationRef]struct{}, len(targets))
	for _, ref := range targets {
		targetSet[ref] = struct{}{}
	}

	var out []chat.ConversationRef
	for _, ref := range active {
		_, listed := targetSet[ref]
		switch mode {
		case config.FilterModeWhitelist:
			if listed {
				out = append(out, ref)
			}
		default: // blacklist
			if !listed {
				out = append(out, ref)
			}
		}
	}
	return out
}

// ResolveManual returns candidates for a manual generate command. From
// a group the run covers just that one conversation; from a private
// chat it covers every active conversation, bypassing filter mode and
// target list entirely so operators can force a full run without
// editing configuration.
func ResolveManual(invokedFrom chat.ConversationRef, active []chat.ConversationRef) []chat.ConversationRef {
	if invokedFrom.Kind == chat.KindGroup {
		return []chat.ConversationRef{invokedFrom}
	}
	out := make([]chat.ConversationRef, len(active))
	copy(out, active)
	return out
}
