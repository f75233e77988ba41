package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nkozdemir/character-chat-app/internal/config"
)

// ErrNotConfigured is returned when no API key is provisioned.
var ErrNotConfigured = errors.New("upstream api key not configured")

// Error reports a failed upstream call. The relay maps it to a bad-gateway
// response; retries are left to the caller.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream error: status %d, body: %s", e.Status, e.Body)
}

// Message is one turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Fixed sampling parameters for every persona turn.
const (
	temperature = 0.65
	maxTokens   = 768
)

// Client issues streaming chat-completion requests against an OpenAI-style
// provider.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewClient builds the upstream client from config. The HTTP client timeout
// bounds the whole exchange, including the streamed body, so a hung upstream
// cannot hold the relay open indefinitely.
func NewClient(cfg config.UpstreamConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultUpstreamBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultModel
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout()},
	}
}

// Configured reports whether an API key is provisioned.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// StreamCompletion sends the turn list and returns the raw SSE body. The
// caller owns the reader and must close it.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.Body == nil {
		return nil, &Error{Status: resp.StatusCode, Body: "empty response body"}
	}
	return resp.Body, nil
}
