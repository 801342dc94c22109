package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/gommon/log"
)

const DefaultAPIHost = "https://api.telegram.org"

// DefaultRetryAfter is the wait applied when Telegram rate-limits us
// without a parseable retry_after value.
const DefaultRetryAfter = 30 * time.Second

// OutcomeKind classifies the result of one send call. The pipeline
// interprets exactly these three kinds and nothing else.
type OutcomeKind int

const (
	Sent OutcomeKind = iota
	RateLimited
	Failed
)

// Outcome reports how one send call went. RetryAfter is only meaningful for
// RateLimited, Err only for Failed.
type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
	Err        error
}

// Client is a thin Telegram Bot API client covering the two send calls the
// pipeline needs.
type Client struct {
	host  string
	token string
	http  *http.Client
}

func New(host string, token string) *Client {
	if host == "" {
		host = DefaultAPIHost
	}
	return &Client{
		host:  host,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendText sends an HTML-formatted message to the chat.
func (c *Client) SendText(ctx context.Context, chatID string, text string) Outcome {
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// SendImage sends a photo by URL with an HTML caption.
func (c *Client) SendImage(ctx context.Context, chatID string, imageURL string, caption string) Outcome {
	return c.call(ctx, "sendPhoto", map[string]interface{}{
		"chat_id":    chatID,
		"photo":      imageURL,
		"caption":    caption,
		"parse_mode": "HTML",
	})
}

func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("failed to encode %s payload: %w", method, err)}
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.host, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%s request failed: %w", method, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("failed to read %s response: %w", method, err)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("failed to decode %s response: %w", method, err)}
	}

	if parsed.OK {
		return Outcome{Kind: Sent}
	}

	if resp.StatusCode == http.StatusTooManyRequests || parsed.ErrorCode == http.StatusTooManyRequests {
		retryAfter := DefaultRetryAfter
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		log.Warnf("Telegram flood control hit, retry after %s", retryAfter)
		return Outcome{Kind: RateLimited, RetryAfter: retryAfter}
	}

	log.Errorf("Telegram %s failed: %s", method, parsed.Description)
	return Outcome{Kind: Failed, Err: fmt.Errorf("%s failed: %s (code %d)", method, parsed.Description, parsed.ErrorCode)}
}
