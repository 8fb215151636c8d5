package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/diary"
)

const helpText = `diary commands:
  diary generate [date]     generate the diary for a date (admin)
  diary list [date|all]     list entries for a date, or overall stats
  diary view [date] [n]     show the n-th entry for a date
  diary debug [date]        show run diagnostics (admin)
  diary help                this message`

const deniedReply = "You do not have permission to use this command."

// openActions need no admin membership: view is read-only and help is
// harmless.
var openActions = map[string]bool{
	"view": true,
	"help": true,
}

// Gate authorizes command senders against the admin allow-list.
type Gate struct {
	admins map[string]struct{}
}

func NewGate(adminIDs []string) *Gate {
	g := &Gate{admins: make(map[string]struct{}, len(adminIDs))}
	for _, id := range adminIDs {
		g.admins[id] = struct{}{}
	}
	return g
}

func (g *Gate) Allow(action, senderID string) bool {
	if openActions[action] {
		return true
	}
	_, ok := g.admins[senderID]
	return ok
}

// Runner executes generation on behalf of commands. The gateway
// implements it; tests use fakes.
type Runner interface {
	RunManual(ctx context.Context, date string, from chat.ConversationRef) (string, error)
	DebugReport(date string, from chat.ConversationRef) (string, error)
}

// Library is the read side of the diary store used by list and view.
type Library interface {
	ListByDate(date string) ([]diary.Record, error)
	Recent(limit int) ([]diary.Record, error)
	Stats() (diary.Stats, error)
}

type Handler struct {
	gate    *Gate
	loc     *time.Location
	runner  Runner
	library Library
}

func NewHandler(gate *Gate, loc *time.Location, runner Runner, library Library) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{gate: gate, loc: loc, runner: runner, library: library}
}

// Handle processes one chat message. The second return is false when
// the text is not a diary command at all. A denied privileged command
// stays silent in groups and is called out explicitly in private; the
// asymmetry keeps the feature invisible to non-admins in shared spaces.
func (h *Handler) Handle(ctx context.Context, from chat.ConversationRef, senderID, text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || fields[0] != "diary" {
		return "", false
	}

	action := "help"
	if len(fields) > 1 {
		action = fields[1]
	}
	args := fields[2:]

	if !h.gate.Allow(action, senderID) {
		if from.Kind == chat.KindGroup {
			return "", true
		}
		return deniedReply, true
	}

	switch action {
	case "help":
		return helpText, true
	case "generate":
		return h.handleGenerate(ctx, from, args)
	case "list":
		return h.handleList(args)
	case "view":
		return h.handleView(args)
	case "debug":
		return h.handleDebug(from, args)
	default:
		return fmt.Sprintf("unknown subcommand %q; try 'diary help'", action), true
	}
}

func (h *Handler) handleGenerate(ctx context.Context, from chat.ConversationRef, args []string) (string, bool) {
	date, err := h.dateArg(args)
	if err != nil {
		return err.Error(), true
	}
	reply, err := h.runner.RunManual(ctx, date, from)
	if err != nil {
		return fmt.Sprintf("diary generation for %s failed: %v", date, err), true
	}
	return reply, true
}

func (h *Handler) handleList(args []string) (string, bool) {
	if len(args) > 0 && args[0] == "all" {
		return h.listAll()
	}
	date, err := h.dateArg(args)
	if err != nil {
		return err.Error(), true
	}

	recs, err := h.library.ListByDate(date)
	if err != nil {
		return fmt.Sprintf("list diaries for %s failed: %v", date, err), true
	}
	if len(recs) == 0 {
		return fmt.Sprintf("no diary entries for %s", date), true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "diary entries for %s:\n", date)
	for i, rec := range recs {
		fmt.Fprintf(&sb, "  %d. [%s] %s, %d messages, %d chars\n",
			i+1, rec.Scope, rec.Weather.Label(), rec.SourceMessageCount, len([]rune(rec.Body)))
	}
	sb.WriteString("use 'diary view " + date + " <n>' to read one")
	return sb.String(), true
}

func (h *Handler) listAll() (string, bool) {
	stats, err := h.library.Stats()
	if err != nil {
		return fmt.Sprintf("diary stats failed: %v", err), true
	}
	if stats.TotalRecords == 0 {
		return "no diary entries yet", true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d diary entries over %d days (%s to %s)",
		stats.TotalRecords, stats.DistinctDates, stats.FirstDate, stats.LastDate)
	if stats.TotalRecords > 0 {
		fmt.Fprintf(&sb, ", avg %d chars", stats.TotalRunes/stats.TotalRecords)
	}
	recent, err := h.library.Recent(3)
	if err == nil && len(recent) > 0 {
		sb.WriteString("\nmost recent:")
		for _, rec := range recent {
			fmt.Fprintf(&sb, "\n  %s [%s] %s", rec.Date, rec.Scope, rec.Weather.Label())
		}
	}
	return sb.String(), true
}

func (h *Handler) handleView(args []string) (string, bool) {
	// A lone argument is always the date; "view 2026" must complain
	// about the date, not ask for entry 2026 of today.
	index := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[len(args)-1])
		if err != nil {
			return fmt.Sprintf("bad entry index %q; want a number", args[len(args)-1]), true
		}
		index = n
		args = args[:len(args)-1]
	}
	date, err := h.dateArg(args)
	if err != nil {
		return err.Error(), true
	}

	recs, err := h.library.ListByDate(date)
	if err != nil {
		return fmt.Sprintf("view diary for %s failed: %v", date, err), true
	}
	if len(recs) == 0 {
		return fmt.Sprintf("no diary entries for %s", date), true
	}
	if index < 1 || index > len(recs) {
		return fmt.Sprintf("entry %d not found; %s has %d entries", index, date, len(recs)), true
	}

	rec := recs[index-1]
	return fmt.Sprintf("%s [%s] %s\n\n%s", rec.Date, rec.Scope, rec.Weather.Label(), rec.Body), true
}

func (h *Handler) handleDebug(from chat.ConversationRef, args []string) (string, bool) {
	date, err := h.dateArg(args)
	if err != nil {
		return err.Error(), true
	}
	report, err := h.runner.DebugReport(date, from)
	if err != nil {
		return fmt.Sprintf("debug report for %s failed: %v", date, err), true
	}
	return report, true
}

func (h *Handler) dateArg(args []string) (string, error) {
	if len(args) == 0 {
		return time.Now().In(h.loc).Format("2006-01-02"), nil
	}
	return ParseDate(args[0], h.loc)
}

var dateLayouts = []string{"2006-01-02", "2006/1/2", "2006.1.2"}

// ParseDate accepts the common date spellings and normalizes them to
// YYYY-MM-DD.
func ParseDate(arg string, loc *time.Location) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, arg, loc); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("cannot parse date %q; use YYYY-MM-DD", arg)
}
