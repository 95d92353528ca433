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
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultTimeout     = 60 * time.Second
)

// Client talks to an OpenAI-compatible chat completion endpoint. It holds only
// static configuration and is safe for concurrent use.
type Client struct {
	BaseURL     string
	APIKey      string
	Defaults    GenerationParams
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	HTTP        *http.Client
	Observer    Observer
	Sleep       func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string, defaults GenerationParams) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:1234/v1"
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Defaults:    defaults,
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Timeout:     defaultTimeout,
		HTTP:        &http.Client{},
		Sleep:       sleepContext,
	}
}

type chatRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Stop             []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends req and returns the content of the first choice. Transport
// failures and malformed bodies are retried with exponential backoff; the
// delay before attempt n+1 is 2^n * BaseDelay.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]ChatMessage, len(req.Messages))
	copy(messages, req.Messages)
	body, err := json.Marshal(chatRequest{
		Model:            req.Params.Model,
		Messages:         messages,
		MaxTokens:        req.Params.MaxTokens,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		PresencePenalty:  req.Params.PresencePenalty,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		Stop:             req.Params.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.attempt(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("completion canceled: %w", ctx.Err())
		}
		var delay time.Duration
		if attempt < attempts {
			delay = c.backoff(attempt)
		}
		if c.Observer != nil {
			c.Observer.AttemptFailed(attempt, delay, err)
		}
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("completion canceled: %w", err)
		}
	}
	if c.Observer != nil {
		c.Observer.Exhausted(attempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, truncate(string(respBody), 200))
	}
	return parseContent(respBody)
}

func parseContent(body []byte) (string, error) {
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	msg := decoded.Choices[0].Message
	if msg == nil || msg.Content == "" {
		return "", fmt.Errorf("%w: first choice has no message content", ErrMalformedResponse)
	}
	return msg.Content, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	return base * time.Duration(int64(1)<<attempt)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
