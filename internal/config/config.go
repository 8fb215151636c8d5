package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mogumoto/diaryd/internal/chat"
)

const (
	DefaultMinMessageCount    = 3
	DefaultMinMessagesPerChat = 3
	DefaultMaxWordCount       = 300
	MinWordCountCap           = 20
	MaxWordCountCap           = 8000
	DefaultTemperature        = 0.7
	DefaultAPITimeout         = 300
	DefaultScheduleTime       = "23:30"
	DefaultTimezone           = "Asia/Shanghai"
	DefaultFilterMode         = FilterModeWhitelist
	DefaultWorkers            = 3
	DefaultBufSize            = 100
	DefaultBotName            = "diaryd"
	DefaultNapcatPort         = 3000
)

const (
	FilterModeWhitelist = "whitelist"
	FilterModeBlacklist = "blacklist"
)

// ConfigError marks a setting that fails validation. Fatal at load.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

type Config struct {
	Plugin   PluginConfig      `json:"plugin"`
	Diary    DiaryConfig       `json:"diary_generation"`
	Provider ProviderConfig    `json:"provider"`
	Custom   CustomModelConfig `json:"custom_model"`
	Schedule ScheduleConfig    `json:"schedule"`
	Qzone    QzoneConfig       `json:"qzone_publishing"`
	OneBot   OneBotConfig      `json:"onebot"`
	Archive  ArchiveConfig     `json:"archive"`
	Persona  PersonaConfig     `json:"persona"`
}

type PluginConfig struct {
	Enabled  bool     `json:"enabled"`
	AdminQQs []string `json:"admin_qqs"`
}

type DiaryConfig struct {
	MinMessageCount       int  `json:"min_message_count"`
	MinMessagesPerChat    int  `json:"min_messages_per_chat"`
	EnableEmotionAnalysis bool `json:"enable_emotion_analysis"`
	MaxWordCount          int  `json:"max_word_count"`
	PerChatDiaries        bool `json:"per_chat_diaries"`
	Workers               int  `json:"workers,omitempty"`
}

// ProviderConfig is the default model endpoint, used unless
// custom_model.use_custom_model is set.
type ProviderConfig struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

type CustomModelConfig struct {
	UseCustomModel   bool    `json:"use_custom_model"`
	APIURL           string  `json:"api_url"` // base URL only, no endpoint suffix
	APIKey           string  `json:"api_key"`
	ModelName        string  `json:"model_name"`
	Temperature      float64 `json:"temperature"`
	MaxContextTokens int     `json:"max_context_tokens"` // thousands
	APITimeout       int     `json:"api_timeout"`        // seconds
}

type ScheduleConfig struct {
	ScheduleTime string   `json:"schedule_time"` // HH:MM
	Timezone     string   `json:"timezone"`      // IANA name
	FilterMode   string   `json:"filter_mode"`   // whitelist | blacklist
	TargetChats  []string `json:"target_chats"`  // "group:<id>" / "private:<id>"
}

type QzoneConfig struct {
	Enabled     bool   `json:"enabled"`
	NapcatHost  string `json:"napcat_host"`
	NapcatPort  int    `json:"napcat_port"`
	NapcatToken string `json:"napcat_token,omitempty"`
}

type OneBotConfig struct {
	Enabled     bool   `json:"enabled"`
	WSURL       string `json:"ws_url"`
	AccessToken string `json:"access_token,omitempty"`
}

type ArchiveConfig struct {
	DBPath string `json:"db_path,omitempty"`
}

type PersonaConfig struct {
	BotName     string `json:"bot_name"`
	Description string `json:"description,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Plugin: PluginConfig{
			Enabled: true,
		},
		Diary: DiaryConfig{
			MinMessageCount:       DefaultMinMessageCount,
			MinMessagesPerChat:    DefaultMinMessagesPerChat,
			EnableEmotionAnalysis: true,
			MaxWordCount:          DefaultMaxWordCount,
			Workers:               DefaultWorkers,
		},
		Provider: ProviderConfig{
			Temperature: DefaultTemperature,
		},
		Custom: CustomModelConfig{
			Temperature: DefaultTemperature,
			APITimeout:  DefaultAPITimeout,
		},
		Schedule: ScheduleConfig{
			ScheduleTime: DefaultScheduleTime,
			Timezone:     DefaultTimezone,
			FilterMode:   DefaultFilterMode,
		},
		Qzone: QzoneConfig{
			NapcatPort: DefaultNapcatPort,
		},
		Persona: PersonaConfig{
			BotName: DefaultBotName,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".diaryd")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("DIARYD_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("DIARYD_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("DIARYD_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if url := os.Getenv("DIARYD_ONEBOT_WS_URL"); url != "" {
		cfg.OneBot.WSURL = url
		cfg.OneBot.Enabled = true
	}
	if token := os.Getenv("DIARYD_ONEBOT_TOKEN"); token != "" {
		cfg.OneBot.AccessToken = token
	}
	if path := os.Getenv("DIARYD_DB_PATH"); path != "" {
		cfg.Archive.DBPath = path
	}
	if tz := os.Getenv("DIARYD_TIMEZONE"); tz != "" {
		cfg.Schedule.Timezone = tz
	}
	if enabled := os.Getenv("DIARYD_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Plugin.Enabled = parsed
		}
	}

	if cfg.Archive.DBPath == "" {
		cfg.Archive.DBPath = filepath.Join(DataDir(), "archive.db")
	}
	if cfg.Diary.Workers <= 0 {
		cfg.Diary.Workers = DefaultWorkers
	}
	if cfg.Persona.BotName == "" {
		cfg.Persona.BotName = DefaultBotName
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// Validate rejects settings that would make a run misbehave. Violations
// are fatal before the first run, never discovered mid-run.
func (c *Config) Validate() error {
	if c.Diary.MaxWordCount < MinWordCountCap || c.Diary.MaxWordCount > MaxWordCountCap {
		return &ConfigError{
			Key:    "diary_generation.max_word_count",
			Reason: fmt.Sprintf("%d out of range [%d, %d]", c.Diary.MaxWordCount, MinWordCountCap, MaxWordCountCap),
		}
	}
	if c.Diary.MinMessageCount < 0 {
		return &ConfigError{Key: "diary_generation.min_message_count", Reason: "must not be negative"}
	}
	if c.Diary.MinMessagesPerChat < 0 {
		return &ConfigError{Key: "diary_generation.min_messages_per_chat", Reason: "must not be negative"}
	}

	if c.Custom.UseCustomModel {
		if c.Custom.APIURL == "" {
			return &ConfigError{Key: "custom_model.api_url", Reason: "required when use_custom_model is set"}
		}
		if c.Custom.Temperature < 0 || c.Custom.Temperature > 1 {
			return &ConfigError{
				Key:    "custom_model.temperature",
				Reason: fmt.Sprintf("%g out of range [0.0, 1.0]", c.Custom.Temperature),
			}
		}
		if c.Custom.APITimeout <= 0 {
			return &ConfigError{Key: "custom_model.api_timeout", Reason: "must be positive seconds"}
		}
	}

	if _, err := time.Parse("15:04", c.Schedule.ScheduleTime); err != nil {
		return &ConfigError{
			Key:    "schedule.schedule_time",
			Reason: fmt.Sprintf("%q is not HH:MM", c.Schedule.ScheduleTime),
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return &ConfigError{
			Key:    "schedule.timezone",
			Reason: fmt.Sprintf("unknown IANA timezone %q", c.Schedule.Timezone),
		}
	}
	switch c.Schedule.FilterMode {
	case FilterModeWhitelist, FilterModeBlacklist:
	default:
		return &ConfigError{
			Key:    "schedule.filter_mode",
			Reason: fmt.Sprintf("%q is not whitelist or blacklist", c.Schedule.FilterMode),
		}
	}
	for _, raw := range c.Schedule.TargetChats {
		if _, err := chat.ParseRef(raw); err != nil {
			return &ConfigError{Key: "schedule.target_chats", Reason: err.Error()}
		}
	}

	if c.Qzone.Enabled {
		if c.Qzone.NapcatHost == "" {
			return &ConfigError{Key: "qzone_publishing.napcat_host", Reason: "required when publishing is enabled"}
		}
		if c.Qzone.NapcatPort <= 0 || c.Qzone.NapcatPort > 65535 {
			return &ConfigError{Key: "qzone_publishing.napcat_port", Reason: "must be a valid TCP port"}
		}
	}

	return nil
}

// Location resolves the configured IANA timezone. Call Validate first.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, &ConfigError{
			Key:    "schedule.timezone",
			Reason: fmt.Sprintf("unknown IANA timezone %q", c.Schedule.Timezone),
		}
	}
	return loc, nil
}

// TargetRefs parses schedule.target_chats, dropping malformed entries.
// Validate rejects malformed entries up front, so drops only happen when
// validation was skipped deliberately.
func (c *Config) TargetRefs() []chat.ConversationRef {
	refs := make([]chat.ConversationRef, 0, len(c.Schedule.TargetChats))
	for _, raw := range c.Schedule.TargetChats {
		ref, err := chat.ParseRef(raw)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// IsAdmin reports whether the sender is on the plugin.admin_qqs list.
func (c *Config) IsAdmin(senderID string) bool {
	for _, id := range c.Plugin.AdminQQs {
		if id == senderID {
			return true
		}
	}
	return false
}
