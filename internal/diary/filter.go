package diary

import (
	"sort"

	"github.com/mogumoto/diaryd/internal/chat"
)

// Thresholds are the two message-count gates a run must pass.
type Thresholds struct {
	MinPerChat int // minimum messages for one conversation to count
	MinTotal   int // minimum summed messages over kept conversations
}

// EligibilityDecision records why one conversation was kept or dropped.
type EligibilityDecision struct {
	Conv     chat.ConversationRef
	Included bool
	Reason   string
	Count    int
}

// FilterEligible applies the two-stage count gate. Stage one drops every
// conversation below MinPerChat; a conversation never partially
// contributes below its own threshold. Stage two requires the kept
// conversations to sum to at least MinTotal, else the whole run fails
// with InsufficientMessagesError. The order is fixed: per-conversation
// first, aggregate second.
func FilterEligible(byConv map[chat.ConversationRef][]chat.Message, th Thresholds) (map[chat.ConversationRef][]chat.Message, []EligibilityDecision, error) {
	refs := make([]chat.ConversationRef, 0, len(byConv))
	for ref := range byConv {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })

	kept := make(map[chat.ConversationRef][]chat.Message)
	decisions := make([]EligibilityDecision, 0, len(refs))
	counts := make(map[string]int, len(refs))
	total := 0

	for _, ref := range refs {
		count := len(byConv[ref])
		counts[ref.String()] = count
		d := EligibilityDecision{Conv: ref, Count: count}
		if count >= th.MinPerChat {
			d.Included = true
			d.Reason = "count meets per-chat minimum"
			kept[ref] = byConv[ref]
			total += count
		} else {
			d.Reason = "count below per-chat minimum"
		}
		decisions = append(decisions, d)
	}

	if total < th.MinTotal {
		return nil, decisions, &InsufficientMessagesError{
			MinPerChat: th.MinPerChat,
			MinTotal:   th.MinTotal,
			Total:      total,
			Counts:     counts,
		}
	}

	return kept, decisions, nil
}
