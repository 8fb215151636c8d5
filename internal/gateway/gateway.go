package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mogumoto/diaryd/internal/archive"
	"github.com/mogumoto/diaryd/internal/bus"
	"github.com/mogumoto/diaryd/internal/channel"
	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/command"
	"github.com/mogumoto/diaryd/internal/config"
	"github.com/mogumoto/diaryd/internal/diary"
	"github.com/mogumoto/diaryd/internal/llm"
	"github.com/mogumoto/diaryd/internal/publish"
	"github.com/mogumoto/diaryd/internal/schedule"
)

// Options for creating a Gateway. Generator lets tests inject a fake
// model client; SignalChan lets tests drive shutdown.
type Options struct {
	Generator  diary.Generator
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg       *config.Config
	loc       *time.Location
	bus       *bus.MessageBus
	channels  *channel.Manager
	archive   *archive.Store
	store     *diary.Store
	svc       *diary.Service
	sched     *schedule.Service
	handler   *command.Handler
	publisher *publish.Client

	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	g := &Gateway{cfg: cfg, loc: loc, signalChan: opts.SignalChan}
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	arch, err := archive.Open(cfg.Archive.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open message archive: %w", err)
	}
	g.archive = arch

	store, err := diary.OpenStore(filepath.Join(filepath.Dir(cfg.Archive.DBPath), "diary.db"))
	if err != nil {
		_ = arch.Close()
		return nil, fmt.Errorf("open diary store: %w", err)
	}
	g.store = store

	profile, err := llm.ProfileFromConfig(cfg)
	if err != nil {
		g.closeStores()
		return nil, err
	}

	gen := opts.Generator
	if gen == nil {
		client, err := llm.New(profile)
		if err != nil {
			g.closeStores()
			return nil, fmt.Errorf("create model client: %w", err)
		}
		gen = client
	}

	weather := diary.NewWeatherSelector(cfg.Diary.EnableEmotionAnalysis, nil)
	g.svc = diary.NewService(arch, gen, store, weather, diary.Options{
		Thresholds: diary.Thresholds{
			MinPerChat: cfg.Diary.MinMessagesPerChat,
			MinTotal:   cfg.Diary.MinMessageCount,
		},
		TokenBudget:  profile.TokenBudget,
		MaxWordCount: cfg.Diary.MaxWordCount,
		Location:     loc,
		ProfileLabel: profile.Label(),
		BotName:      cfg.Persona.BotName,
		Persona:      cfg.Persona.Description,
		Workers:      cfg.Diary.Workers,
	})

	sched, err := schedule.NewService(cfg.Schedule.ScheduleTime, loc)
	if err != nil {
		g.closeStores()
		return nil, err
	}
	sched.OnRun = g.runScheduled
	g.sched = sched

	g.handler = command.NewHandler(command.NewGate(cfg.Plugin.AdminQQs), loc, g, store)

	if cfg.Qzone.Enabled {
		g.publisher = publish.New(cfg.Qzone.NapcatHost, cfg.Qzone.NapcatPort, cfg.Qzone.NapcatToken)
	}

	channels, err := channel.NewManager(cfg, g.bus)
	if err != nil {
		g.closeStores()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = channels

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.sched.Start(); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running; next scheduled run %s", g.sched.NextRun().Format(time.RFC3339))

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	// Every message feeds the archive; the diary is built from it.
	err := g.archive.Record(chat.Message{
		Conv:      msg.Conv,
		SenderID:  msg.SenderID,
		Nickname:  msg.Nickname,
		FromBot:   msg.FromBot,
		Timestamp: msg.Timestamp,
		Text:      msg.Content,
	})
	if err != nil {
		log.Printf("[gateway] archive warning: %v", err)
	}

	if msg.FromBot {
		return
	}

	reply, handled := g.handler.Handle(ctx, msg.Conv, msg.SenderID, msg.Content)
	if !handled || reply == "" {
		return
	}

	log.Printf("[gateway] command from %s in %s: %s", msg.SenderID, msg.Conv, truncate(msg.Content, 80))
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		Conv:    msg.Conv,
		Content: reply,
	}
	// The reply is part of the day too.
	if err := g.archive.Record(chat.Message{
		Conv:      msg.Conv,
		SenderID:  "self",
		FromBot:   true,
		Timestamp: time.Now(),
		Text:      reply,
	}); err != nil {
		log.Printf("[gateway] archive warning: %v", err)
	}
}

// runScheduled is the daily trigger handler. Config is read once here
// and treated as immutable for the run.
func (g *Gateway) runScheduled(date string) {
	if !g.cfg.Plugin.Enabled {
		log.Printf("[gateway] diary plugin disabled, skipping scheduled run")
		return
	}

	targets := g.cfg.TargetRefs()
	if !schedule.Enabled(g.cfg.Schedule.FilterMode, targets) {
		log.Printf("[gateway] schedule whitelist is empty, scheduled runs are disabled")
		return
	}

	active, err := g.activeConversations(date)
	if err != nil {
		log.Printf("[gateway] scheduled run for %s failed: %v", date, err)
		return
	}
	candidates := schedule.Resolve(g.cfg.Schedule.FilterMode, targets, active)
	if len(candidates) == 0 {
		log.Printf("[gateway] no candidate conversations for %s, nothing to do", date)
		return
	}

	ctx := context.Background()
	rec, err := g.svc.Generate(ctx, date, candidates, diary.ScopeAll, false)
	if err != nil {
		var insuff *diary.InsufficientMessagesError
		if errors.As(err, &insuff) {
			log.Printf("[gateway] scheduled run for %s skipped: %v", date, err)
		} else {
			log.Printf("[gateway] scheduled run for %s failed: %v", date, err)
		}
	} else {
		log.Printf("[gateway] diary for %s generated (%d chars, weather %s)", date, len([]rune(rec.Body)), rec.Weather)
		g.publishRecord(ctx, rec)
	}

	if g.cfg.Diary.PerChatDiaries {
		for _, res := range g.svc.GenerateEach(ctx, date, candidates) {
			if res.Err != nil {
				log.Printf("[gateway] per-chat diary %s/%s failed: %v", date, res.Scope, res.Err)
			}
		}
	}
}

// RunManual executes the generate command. From a group the run covers
// that conversation; from a private chat it covers every active
// conversation regardless of the configured filter.
func (g *Gateway) RunManual(ctx context.Context, date string, from chat.ConversationRef) (string, error) {
	if !g.cfg.Plugin.Enabled {
		return "", fmt.Errorf("diary plugin is disabled")
	}

	active, err := g.activeConversations(date)
	if err != nil {
		return "", err
	}
	candidates := schedule.ResolveManual(from, active)
	if len(candidates) == 0 {
		return fmt.Sprintf("no active conversations on %s", date), nil
	}

	scope := diary.ScopeAll
	if from.Kind == chat.KindGroup {
		scope = from.String()
	}

	rec, err := g.svc.Generate(ctx, date, candidates, scope, true)
	if err != nil {
		return "", err
	}
	g.publishRecord(ctx, rec)

	return fmt.Sprintf("diary for %s (%s):\n\n%s", rec.Date, rec.Weather.Label(), rec.Body), nil
}

// DebugReport names every precondition a run depends on, so a failing
// setup is diagnosable from chat.
func (g *Gateway) DebugReport(date string, from chat.ConversationRef) (string, error) {
	day, err := time.ParseInLocation("2006-01-02", date, g.loc)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}

	active, err := g.activeConversations(date)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "diary debug for %s\n", date)
	fmt.Fprintf(&sb, "plugin enabled: %v\n", g.cfg.Plugin.Enabled)
	fmt.Fprintf(&sb, "thresholds: %d per chat, %d total\n", g.cfg.Diary.MinMessagesPerChat, g.cfg.Diary.MinMessageCount)

	targets := g.cfg.TargetRefs()
	fmt.Fprintf(&sb, "filter: %s with %d targets, scheduled runs enabled: %v\n",
		g.cfg.Schedule.FilterMode, len(targets), schedule.Enabled(g.cfg.Schedule.FilterMode, targets))
	if next := g.sched.NextRun(); !next.IsZero() {
		fmt.Fprintf(&sb, "next scheduled run: %s\n", next.In(g.loc).Format("2006-01-02 15:04"))
	}

	fmt.Fprintf(&sb, "active conversations: %d\n", len(active))
	for _, ref := range active {
		msgs, err := g.archive.MessagesBetween(ref, day, day.AddDate(0, 0, 1))
		if err != nil {
			return "", err
		}
		status := "eligible"
		if len(msgs) < g.cfg.Diary.MinMessagesPerChat {
			status = "below per-chat minimum"
		}
		fmt.Fprintf(&sb, "  %s: %d messages (%s)\n", ref, len(msgs), status)
	}

	recs, err := g.store.ListByDate(date)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "stored entries for %s: %d", date, len(recs))
	return sb.String(), nil
}

func (g *Gateway) publishRecord(ctx context.Context, rec *diary.Record) {
	if g.publisher == nil {
		return
	}
	// Publish after the record is stored; a failure here never loses
	// the diary.
	if err := g.publisher.Publish(ctx, rec.Body); err != nil {
		pubErr := &diary.PublishError{Err: err}
		log.Printf("[gateway] %v", pubErr)
		return
	}
	if err := g.store.MarkPublished(rec.ID, time.Now()); err != nil {
		log.Printf("[gateway] mark published warning: %v", err)
	}
	log.Printf("[gateway] diary %s/%s published", rec.Date, rec.Scope)
}

func (g *Gateway) activeConversations(date string) ([]chat.ConversationRef, error) {
	day, err := time.ParseInLocation("2006-01-02", date, g.loc)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	// A DST-transition day is not 24 hours; AddDate tracks the calendar.
	refs, err := g.archive.ActiveConversations(day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list active conversations: %w", err)
	}
	return refs, nil
}

func (g *Gateway) closeStores() {
	if g.archive != nil {
		_ = g.archive.Close()
	}
	if g.store != nil {
		_ = g.store.Close()
	}
}

func (g *Gateway) Shutdown() error {
	g.sched.Stop()
	_ = g.channels.StopAll()
	g.closeStores()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
