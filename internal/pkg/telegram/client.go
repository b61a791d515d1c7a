package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiBase = "https://api.telegram.org"

// Client posts operator notifications to a Telegram chat via the Bot API.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
}

func NewClient(token, chatID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) IsConfigured() bool {
	return c.token != "" && c.chatID != ""
}

// SendMessage delivers a Markdown message. Any non-2xx answer counts as
// a delivery failure.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("telegram not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
