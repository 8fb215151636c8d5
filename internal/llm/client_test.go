package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mogumoto/diaryd/internal/config"
)

func testProfile(baseURL string) Profile {
	return Profile{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "test-model",
		Temperature: 0.7,
		TokenBudget: DefaultTokenBudget,
		Timeout:     5 * time.Second,
	}
}

func TestComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  dear diary  "}},
			},
		})
	}))
	defer srv.Close()

	c, err := New(testProfile(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := c.Complete(context.Background(), "write")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "dear diary" {
		t.Errorf("content = %q, want trimmed completion", out)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
}

func TestComplete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := New(testProfile(srv.URL))
	_, err := c.Complete(context.Background(), "write")
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry status code: %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c, _ := New(testProfile(srv.URL))
	if _, err := c.Complete(context.Background(), "write"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestComplete_SingleAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(testProfile(srv.URL))
	_, _ = c.Complete(context.Background(), "write")
	if calls != 1 {
		t.Errorf("made %d requests, want exactly 1", calls)
	}
}

func TestProfileFromConfig_Default(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.BaseURL = "https://api.example.com/v1/"
	cfg.Provider.Model = "gpt-x"

	p, err := ProfileFromConfig(cfg)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.UseCustom {
		t.Error("default profile should not be custom")
	}
	if p.TokenBudget != DefaultTokenBudget {
		t.Errorf("budget = %d, want %d", p.TokenBudget, DefaultTokenBudget)
	}
	if p.BaseURL != "https://api.example.com/v1" {
		t.Errorf("base url not normalized: %q", p.BaseURL)
	}
}

func TestProfileFromConfig_CustomBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Custom.UseCustomModel = true
	cfg.Custom.APIURL = "https://api.example.com/v1"
	cfg.Custom.ModelName = "m"
	cfg.Custom.MaxContextTokens = 32

	p, err := ProfileFromConfig(cfg)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.TokenBudget != 30000 {
		t.Errorf("budget = %d, want 30000", p.TokenBudget)
	}
	if p.Timeout != time.Duration(cfg.Custom.APITimeout)*time.Second {
		t.Errorf("timeout = %v", p.Timeout)
	}
}

func TestProfileFromConfig_NonPositiveBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Custom.UseCustomModel = true
	cfg.Custom.APIURL = "https://api.example.com/v1"
	cfg.Custom.MaxContextTokens = 2 // 2000 - 2000 = 0

	_, err := ProfileFromConfig(cfg)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %v", err)
	}
	if cfgErr.Key != "custom_model.max_context_tokens" {
		t.Errorf("error key = %q", cfgErr.Key)
	}
}

func TestProfileFromConfig_SuffixedBaseURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Custom.UseCustomModel = true
	cfg.Custom.APIURL = "https://api.example.com/v1/chat/completions"
	cfg.Custom.MaxContextTokens = 32

	_, err := ProfileFromConfig(cfg)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %v", err)
	}
	if cfgErr.Key != "custom_model.api_url" {
		t.Errorf("error key = %q", cfgErr.Key)
	}
}

func TestProfileLabel(t *testing.T) {
	p := Profile{Model: "m"}
	if p.Label() != "default/m" {
		t.Errorf("label = %q", p.Label())
	}
	p.UseCustom = true
	if p.Label() != "custom/m" {
		t.Errorf("label = %q", p.Label())
	}
}
