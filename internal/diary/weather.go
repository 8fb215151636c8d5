package diary

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

type WeatherTag string

const (
	WeatherSunny         WeatherTag = "sunny"
	WeatherCloudyToSunny WeatherTag = "cloudy_to_sunny"
	WeatherCloudy        WeatherTag = "cloudy"
	WeatherOvercast      WeatherTag = "overcast"
	WeatherRainy         WeatherTag = "rainy"
)

var allWeatherTags = []WeatherTag{
	WeatherSunny, WeatherCloudyToSunny, WeatherCloudy, WeatherOvercast, WeatherRainy,
}

func (t WeatherTag) Label() string {
	switch t {
	case WeatherSunny:
		return "sunny"
	case WeatherCloudyToSunny:
		return "clearing up"
	case WeatherOvercast:
		return "overcast"
	case WeatherRainy:
		return "rainy"
	default:
		return "cloudy"
	}
}

// WeatherResult distinguishes a scored outcome from the random
// fallback, keeping the policy observable instead of hiding it behind
// an exception path.
type WeatherResult struct {
	Tag    WeatherTag
	Scored bool
	Score  int // winning lexicon count; 0 on the fallback path
}

// Bilingual mood lexicons. Counts, not semantics: a crude signal is
// enough since weather only colors the prompt.
var (
	happyWords = []string{"开心", "高兴", "哈哈", "笑", "棒", "好耶", "happy", "great", "awesome", "haha", "lol", "nice"}
	sadWords   = []string{"难过", "伤心", "哭", "呜", "唉", "sad", "cry", "sigh", "upset"}
	angryWords = []string{"生气", "气死", "怒", "烦", "angry", "annoyed", "mad", "furious"}
	calmWords  = []string{"平静", "安静", "还好", "普通", "calm", "quiet", "fine", "okay"}
)

type WeatherSelector struct {
	enabled bool

	mu  sync.Mutex // fan-out workers share the selector
	rng *rand.Rand
}

// NewWeatherSelector builds a selector. rng may be nil; tests pass a
// seeded source for determinism.
func NewWeatherSelector(enabled bool, rng *rand.Rand) *WeatherSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &WeatherSelector{enabled: enabled, rng: rng}
}

// Select maps aggregate sentiment to a weather tag via a fixed
// threshold table. Disabled scoring or an empty corpus falls back to a
// uniform-random tag. Never returns an error; weather must not block
// generation.
func (s *WeatherSelector) Select(msgs []chat.Message) WeatherResult {
	if !s.enabled {
		return s.fallback()
	}

	var corpus strings.Builder
	for _, m := range msgs {
		if m.FromBot {
			continue
		}
		corpus.WriteString(strings.ToLower(m.Text))
		corpus.WriteString("\n")
	}
	text := corpus.String()
	if strings.TrimSpace(text) == "" {
		return s.fallback()
	}

	happy := countAny(text, happyWords)
	sad := countAny(text, sadWords)
	angry := countAny(text, angryWords)
	calm := countAny(text, calmWords)

	switch {
	case happy >= 2:
		return WeatherResult{Tag: WeatherSunny, Scored: true, Score: happy}
	case happy >= 1:
		return WeatherResult{Tag: WeatherCloudyToSunny, Scored: true, Score: happy}
	case sad >= 1:
		return WeatherResult{Tag: WeatherRainy, Scored: true, Score: sad}
	case angry >= 1:
		return WeatherResult{Tag: WeatherOvercast, Scored: true, Score: angry}
	case calm >= 1:
		return WeatherResult{Tag: WeatherCloudy, Scored: true, Score: calm}
	default:
		return WeatherResult{Tag: WeatherCloudy, Scored: true}
	}
}

func (s *WeatherSelector) fallback() WeatherResult {
	s.mu.Lock()
	tag := allWeatherTags[s.rng.Intn(len(allWeatherTags))]
	s.mu.Unlock()
	return WeatherResult{Tag: tag}
}

func countAny(text string, words []string) int {
	n := 0
	for _, w := range words {
		n += strings.Count(text, w)
	}
	return n
}
