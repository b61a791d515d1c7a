package offerfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config for the offer feed "check API". AccountID and APIKey identify
// the publisher account; the end user rides in the s1 subid.
type Config struct {
	CheckURL  string
	AccountID string
	APIKey    string
	Testing   bool
	Timeout   time.Duration
}

// Completion is one conversion the feed reports for a user. Points are
// already divided down from the feed's integer cents.
type Completion struct {
	ExternalID string
	OfferID    string
	Points     decimal.Decimal
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Completions fetches the user's completion page. The feed's responses
// are inconsistent (bare JSON array, JSON-encoded string, or a JSONP
// wrapper), so the payload is unwrapped tolerantly before decoding.
func (c *Client) Completions(ctx context.Context, userID uuid.UUID) ([]Completion, error) {
	if c.cfg.CheckURL == "" {
		return nil, fmt.Errorf("offer feed not configured")
	}

	q := url.Values{}
	q.Set("user_id", c.cfg.AccountID)
	q.Set("api_key", c.cfg.APIKey)
	q.Set("s1", userID.String())
	q.Set("format", "json")
	if c.cfg.Testing {
		q.Set("testing", "1")
	} else {
		q.Set("testing", "0")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CheckURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("offer feed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("offer feed returned status %d", resp.StatusCode)
	}

	return ParseCompletions(body)
}

// feedItem tolerates numeric or string ids and amounts.
type feedItem struct {
	LeadID  json.RawMessage `json:"lead_id"`
	ID      json.RawMessage `json:"id"`
	OfferID json.RawMessage `json:"offer_id"`
	Points  json.RawMessage `json:"points"`
}

// ParseCompletions decodes a feed payload. Exported for the hermetic
// parser tests; network access lives only in Completions.
func ParseCompletions(body []byte) ([]Completion, error) {
	s := strings.TrimSpace(string(body))

	// JSONP wrapper: callback([...])
	if !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, `"`) {
		open := strings.Index(s, "(")
		end := strings.LastIndex(s, ")")
		if open >= 0 && end > open {
			s = strings.TrimSpace(s[open+1 : end])
		}
	}

	// The whole payload double-encoded as a JSON string.
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			s = strings.TrimSpace(inner)
		}
	}

	if s == "" || s == "null" {
		return nil, nil
	}

	var items []feedItem
	if strings.HasPrefix(s, "{") {
		var one feedItem
		if err := json.Unmarshal([]byte(s), &one); err != nil {
			return nil, fmt.Errorf("decode feed payload: %w", err)
		}
		items = []feedItem{one}
	} else {
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, fmt.Errorf("decode feed payload: %w", err)
		}
	}

	out := make([]Completion, 0, len(items))
	for _, it := range items {
		id := rawString(it.LeadID)
		if id == "" {
			id = rawString(it.ID)
		}
		if id == "" {
			continue
		}
		cents, err := decimal.NewFromString(rawString(it.Points))
		if err != nil || !cents.IsPositive() {
			continue
		}
		out = append(out, Completion{
			ExternalID: "feed-" + id,
			OfferID:    rawString(it.OfferID),
			Points:     cents.Div(decimal.NewFromInt(100)).Round(2),
		})
	}
	return out, nil
}

// rawString renders a raw JSON scalar as its bare string form.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			return strings.TrimSpace(v)
		}
	}
	return s
}
