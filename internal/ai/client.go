// Package ai implements the chat-completion client for the upstream
// AI provider (OpenRouter-compatible API).
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api/v1"
	defaultRequestTimeout = 8 * time.Second
	defaultProbeTimeout   = 3 * time.Second
	probeMaxTokens        = 10
	maxRetries            = 3
	initialBackoff        = 500 * time.Millisecond
)

// ErrEmptyCompletion is returned when the provider answers with no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Message is a single chat message in the provider's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client communicates with an OpenRouter-compatible chat completions API.
// Every call is bounded by a hard timeout so a slow provider can never hang
// a conversation turn.
type Client struct {
	apiKey         string
	baseURL        string
	model          string
	requestTimeout time.Duration
	probeTimeout   time.Duration
	httpClient     *http.Client
}

// NewClient creates a Client for the given API key and model.
// Non-positive timeouts fall back to the defaults (8s request, 3s probe).
func NewClient(apiKey, model string, requestTimeout, probeTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Client{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		model:          model,
		requestTimeout: requestTimeout,
		probeTimeout:   probeTimeout,
		httpClient:     &http.Client{},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, model, baseURL string, requestTimeout, probeTimeout time.Duration) *Client {
	c := NewClient(apiKey, model, requestTimeout, probeTimeout)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the messages and returns the assistant's reply text.
// Rate-limit responses are retried with exponential backoff inside the client;
// the caller sees only the final outcome.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return c.complete(ctx, messages, maxTokens, c.requestTimeout)
}

// Probe issues a minimal completion under a short timeout. It is used by the
// health monitor to re-validate the provider without burning tokens.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.complete(ctx, []Message{
		{Role: "system", Content: "Ответь одним словом."},
		{Role: "user", Content: "ping"},
	}, probeMaxTokens, c.probeTimeout)
	return err
}

func (c *Client) complete(ctx context.Context, messages []Message, maxTokens int, timeout time.Duration) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		text, err := c.doComplete(ctx, body, timeout)
		if err == nil {
			return text, nil
		}

		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rle *rateLimitError
	return errors.As(err, &rle)
}

func (c *Client) doComplete(ctx context.Context, body []byte, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return result.Choices[0].Message.Content, nil
}
