package diary

import (
	"sort"
	"time"
	"unicode"

	"github.com/mogumoto/diaryd/internal/chat"
)

// ManualTokenCeiling caps transcripts for ad-hoc generate commands
// regardless of the configured profile, bounding latency and cost.
const ManualTokenCeiling = 50000

const truncationMarker = "(earlier messages omitted)"

// Transcript is the size-bounded serialized form of a run's messages.
type Transcript struct {
	Convs           []chat.ConversationRef
	Text            string
	EstimatedTokens int
	Truncated       bool
}

// EstimateTokens is a deterministic, monotonic token heuristic: CJK
// runes average about 1.5 per token, everything else about 4 runes per
// token. Appending text never lowers the estimate.
func EstimateTokens(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return int(float64(cjk)/1.5 + float64(other)/4.0)
}

// TruncateToBudget serializes messages oldest to newest and drops whole
// oldest messages until the estimate fits the budget, biasing retention
// toward the most recent content. The newest message is always retained;
// if it alone exceeds the budget its text is clipped from the front.
func TruncateToBudget(msgs []chat.Message, budget int, loc *time.Location) Transcript {
	kept := make([]chat.Message, len(msgs))
	copy(kept, msgs)
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})

	truncated := false
	for {
		text := BuildTimeline(kept, loc)
		if truncated {
			text = truncationMarker + "\n" + text
		}
		est := EstimateTokens(text)
		if est <= budget || len(kept) == 0 {
			return Transcript{
				Convs:           distinctConvs(kept),
				Text:            text,
				EstimatedTokens: est,
				Truncated:       truncated,
			}
		}
		if len(kept) == 1 {
			return clipSingle(kept[0], budget, loc)
		}

		// Drop a share of the oldest messages proportional to the
		// overshoot, at least one, never the newest.
		drop := len(kept) * (est - budget) / est
		if drop < 1 {
			drop = 1
		}
		if drop >= len(kept) {
			drop = len(kept) - 1
		}
		kept = kept[drop:]
		truncated = true
	}
}

// clipSingle trims one over-budget message from the front until the
// serialized form fits.
func clipSingle(m chat.Message, budget int, loc *time.Location) Transcript {
	runes := []rune(m.Text)
	for {
		msg := m
		msg.Text = string(runes)
		text := truncationMarker + "\n" + BuildTimeline([]chat.Message{msg}, loc)
		est := EstimateTokens(text)
		if est <= budget || len(runes) <= 1 {
			return Transcript{
				Convs:           []chat.ConversationRef{m.Conv},
				Text:            text,
				EstimatedTokens: est,
				Truncated:       true,
			}
		}
		keep := len(runes) * budget / est
		if keep >= len(runes) {
			keep = len(runes) - 1
		}
		if keep < 1 {
			keep = 1
		}
		runes = runes[len(runes)-keep:]
	}
}

func distinctConvs(msgs []chat.Message) []chat.ConversationRef {
	var order []chat.ConversationRef
	seen := make(map[chat.ConversationRef]struct{})
	for _, m := range msgs {
		if _, ok := seen[m.Conv]; ok {
			continue
		}
		seen[m.Conv] = struct{}{}
		order = append(order, m.Conv)
	}
	return order
}
