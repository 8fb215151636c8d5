package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client posts diary entries to Qzone through a Napcat HTTP gateway.
// The gateway protocol is a black box here: one POST, success or error.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(host string, port int, token string) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Publish sends one entry. Callers treat failure as best-effort: the
// diary record is already stored before this is attempted.
func (c *Client) Publish(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_qzone", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send publish request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read publish response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publisher http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Retcode int    `json:"retcode"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Some gateways answer with plain 200s; a 2xx without JSON is
		// still a success.
		log.Printf("[publish] non-json publisher response: %s", strings.TrimSpace(string(body)))
		return nil
	}
	if decoded.Retcode != 0 {
		return fmt.Errorf("publisher retcode %d: %s", decoded.Retcode, decoded.Message)
	}
	return nil
}
