package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mogumoto/diaryd/internal/config"
)

const (
	completionsPath = "/chat/completions"

	// DefaultTokenBudget is the transcript budget for the default
	// profile: 128k nominal context minus the reserved overhead.
	DefaultTokenBudget = 126000
	ReservedTokens     = 2000
)

// Profile holds everything needed for one generation call.
type Profile struct {
	UseCustom   bool
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TokenBudget int
	Timeout     time.Duration
}

func (p Profile) Label() string {
	if p.UseCustom {
		return "custom/" + p.Model
	}
	return "default/" + p.Model
}

// ProfileFromConfig resolves the active model profile and derives its
// token budget. Custom budgets come from max_context_tokens (thousands)
// minus the reserved overhead; a non-positive result is a configuration
// error, never a silent empty transcript.
func ProfileFromConfig(cfg *config.Config) (Profile, error) {
	if cfg.Custom.UseCustomModel {
		budget := cfg.Custom.MaxContextTokens*1000 - ReservedTokens
		if budget <= 0 {
			return Profile{}, &config.ConfigError{
				Key:    "custom_model.max_context_tokens",
				Reason: fmt.Sprintf("derived token budget %d is not positive", budget),
			}
		}
		baseURL, err := checkBaseURL(cfg.Custom.APIURL, "custom_model.api_url")
		if err != nil {
			return Profile{}, err
		}
		return Profile{
			UseCustom:   true,
			BaseURL:     baseURL,
			APIKey:      cfg.Custom.APIKey,
			Model:       cfg.Custom.ModelName,
			Temperature: cfg.Custom.Temperature,
			TokenBudget: budget,
			Timeout:     time.Duration(cfg.Custom.APITimeout) * time.Second,
		}, nil
	}

	baseURL, err := checkBaseURL(cfg.Provider.BaseURL, "provider.base_url")
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		BaseURL:     baseURL,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		TokenBudget: DefaultTokenBudget,
		Timeout:     time.Duration(config.DefaultAPITimeout) * time.Second,
	}, nil
}

// checkBaseURL rejects a base URL that already carries the completions
// suffix. The client appends the suffix itself; doubling it is a user
// misconfiguration we surface instead of auto-correcting.
func checkBaseURL(raw, key string) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(baseURL, completionsPath) {
		return "", &config.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("must be a base URL; remove the %s suffix", completionsPath),
		}
	}
	return baseURL, nil
}

type Client struct {
	profile    Profile
	httpClient *http.Client
}

func New(profile Profile) (*Client, error) {
	if strings.TrimSpace(profile.BaseURL) == "" {
		return nil, fmt.Errorf("missing model base url")
	}
	if profile.Model == "" {
		return nil, fmt.Errorf("missing model name")
	}
	return &Client{
		profile:    profile,
		httpClient: &http.Client{Timeout: profile.Timeout},
	}, nil
}

func (c *Client) Profile() Profile {
	return c.profile
}

// Complete sends one chat-completion request and returns the text of the
// first choice. Exactly one attempt; retries belong to the caller.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.profile.APIKey) == "" {
		return "", fmt.Errorf("missing model api key")
	}

	body := map[string]any{
		"model": c.profile.Model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"temperature": c.profile.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.BaseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.profile.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}
