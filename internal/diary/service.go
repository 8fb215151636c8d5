package diary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mogumoto/diaryd/internal/chat"
)

const bodyClipMark = "…"

// Source supplies timestamped messages per conversation for a window.
// The gateway injects the archive; tests inject fixtures.
type Source interface {
	MessagesBetween(ref chat.ConversationRef, from, to time.Time) ([]chat.Message, error)
}

// Generator is the text-generation boundary. One Complete call is one
// attempt; the service never retries internally.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	Thresholds   Thresholds
	TokenBudget  int
	MaxWordCount int
	Location     *time.Location
	ProfileLabel string
	BotName      string
	Persona      string
	Workers      int
	Rand         *rand.Rand // target-length jitter; nil for time-seeded
}

// Service orchestrates one diary run: fetch, filter, truncate, weather,
// generate, persist.
type Service struct {
	src     Source
	gen     Generator
	store   *Store
	weather *WeatherSelector
	opts    Options

	randMu sync.Mutex // opts.Rand is shared across fan-out workers
}

func NewService(src Source, gen Generator, store *Store, weather *WeatherSelector, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{src: src, gen: gen, store: store, weather: weather, opts: opts}
}

// Generate runs one diary generation for the date over the candidate
// conversations and persists the result under scope. Manual runs apply
// the hard token ceiling on top of the profile budget.
func (s *Service) Generate(ctx context.Context, date string, convs []chat.ConversationRef, scope string, manual bool) (*Record, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	// AddDate, not 24h: the calendar day is 23 or 25 hours long when
	// the configured zone crosses a DST transition.
	from := day
	to := day.AddDate(0, 0, 1)

	byConv := make(map[chat.ConversationRef][]chat.Message, len(convs))
	for _, ref := range convs {
		msgs, err := s.src.MessagesBetween(ref, from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch messages for %s: %w", ref, err)
		}
		byConv[ref] = msgs
	}

	kept, _, err := FilterEligible(byConv, s.opts.Thresholds)
	if err != nil {
		return nil, err
	}

	budget := s.opts.TokenBudget
	if manual && budget > ManualTokenCeiling {
		budget = ManualTokenCeiling
	}

	// Flatten in ref order so ties on timestamp serialize the same
	// way every run.
	refs := make([]chat.ConversationRef, 0, len(kept))
	for ref := range kept {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	var flat []chat.Message
	for _, ref := range refs {
		flat = append(flat, kept[ref]...)
	}
	transcript := TruncateToBudget(flat, budget, s.opts.Location)
	if transcript.Truncated {
		log.Printf("[diary] transcript for %s/%s truncated to ~%d tokens", date, scope, transcript.EstimatedTokens)
	}

	weather := s.weather.Select(flat)

	prompt := s.buildPrompt(date, weather.Tag, transcript.Text)
	body, err := s.gen.Complete(ctx, prompt)
	if err != nil {
		return nil, &GenerationError{Stage: "complete", Err: err}
	}
	body = clipBody(strings.TrimSpace(body), s.opts.MaxWordCount)
	if body == "" {
		return nil, &GenerationError{Stage: "postprocess", Err: errors.New("model returned an empty diary body")}
	}

	botCount, userCount := 0, 0
	for _, m := range flat {
		if m.FromBot {
			botCount++
		} else {
			userCount++
		}
	}

	rec := &Record{
		ID:                 uuid.NewString(),
		Date:               date,
		Scope:              scope,
		Body:               body,
		Weather:            weather.Tag,
		WeatherScored:      weather.Scored,
		GeneratedAt:        time.Now(),
		ModelProfile:       s.opts.ProfileLabel,
		SourceMessageCount: len(flat),
		BotMessages:        botCount,
		UserMessages:       userCount,
	}
	if err := s.store.Save(rec); err != nil {
		return nil, &GenerationError{Stage: "persist", Err: err}
	}
	return rec, nil
}

// RunResult pairs one scope of a fan-out run with its outcome.
type RunResult struct {
	Scope  string
	Record *Record
	Err    error
}

// GenerateEach produces one diary per candidate conversation through a
// bounded worker pool. Scopes are independent; one failure never stops
// the others.
func (s *Service) GenerateEach(ctx context.Context, date string, convs []chat.ConversationRef) []RunResult {
	results := make([]RunResult, len(convs))
	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup

	for i, ref := range convs {
		wg.Add(1)
		go func(i int, ref chat.ConversationRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := s.Generate(ctx, date, []chat.ConversationRef{ref}, ref.String(), false)
			results[i] = RunResult{Scope: ref.String(), Record: rec, Err: err}
		}(i, ref)
	}
	wg.Wait()
	return results
}

func (s *Service) buildPrompt(date string, weather WeatherTag, transcript string) string {
	s.randMu.Lock()
	target := 250 + s.opts.Rand.Intn(101)
	s.randMu.Unlock()
	name := s.opts.BotName
	if name == "" {
		name = "the bot"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a chat bot, writing your private diary entry for %s.\n", name, date)
	if s.opts.Persona != "" {
		fmt.Fprintf(&sb, "About you: %s\n", s.opts.Persona)
	}
	fmt.Fprintf(&sb, "Today felt %s.\n\n", weather.Label())
	sb.WriteString("Here is what happened in your conversations today:\n\n")
	sb.WriteString(transcript)
	fmt.Fprintf(&sb, "\n\nWrite a first-person diary entry of about %d characters.\n", target)
	sb.WriteString("Keep it natural and personal, and mention the moments that stood out.\n")
	sb.WriteString("Output only the diary body.")
	return sb.String()
}

// clipBody bounds the body at a rune boundary with a visible marker.
func clipBody(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit-1]) + bodyClipMark
}
