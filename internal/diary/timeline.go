package diary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

const (
	emptyTimeline   = "Nothing much was said today."
	maxLineRunes    = 100
	clippedLineMark = "…"
)

// BuildTimeline serializes messages into the transcript fed to the
// model: one section per conversation, hour-bucketed headers, bot lines
// written in the first person. Long messages are clipped per line.
func BuildTimeline(msgs []chat.Message, loc *time.Location) string {
	if len(msgs) == 0 {
		return emptyTimeline
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]chat.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Sections in order of each conversation's first message.
	var order []chat.ConversationRef
	byConv := make(map[chat.ConversationRef][]chat.Message)
	for _, m := range sorted {
		if _, ok := byConv[m.Conv]; !ok {
			order = append(order, m.Conv)
		}
		byConv[m.Conv] = append(byConv[m.Conv], m)
	}

	var sb strings.Builder
	for i, ref := range order {
		if i > 0 {
			sb.WriteString("\n")
		}
		if len(order) > 1 {
			fmt.Fprintf(&sb, "# %s\n", ref)
		}
		writeConvSection(&sb, byConv[ref], loc)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeConvSection(sb *strings.Builder, msgs []chat.Message, loc *time.Location) {
	lastHour := -1
	for _, m := range msgs {
		local := m.Timestamp.In(loc)
		if local.Hour() != lastHour {
			lastHour = local.Hour()
			fmt.Fprintf(sb, "[%02d:00]\n", lastHour)
		}
		name := "me"
		if !m.FromBot {
			name = m.Nickname
			if name == "" {
				name = m.SenderID
			}
		}
		fmt.Fprintf(sb, "%s: %s\n", name, clipLine(m.Text))
	}
}

func clipLine(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= maxLineRunes {
		return text
	}
	return string(runes[:maxLineRunes]) + clippedLineMark
}
