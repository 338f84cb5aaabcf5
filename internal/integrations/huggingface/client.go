package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chat-relay/internal/domain"
)

const defaultBaseURL = "https://router.huggingface.co/v1"

// ChatRequest is the request shape for the streaming Chat Completions endpoint.
type ChatRequest struct {
	Model     string               `json:"model"`
	Messages  []domain.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
	Stream    bool                 `json:"stream"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("huggingface: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the Hugging Face OpenAI-compatible chat
// completions API. It holds no per-request state and is safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client authenticating with apiKey. Streaming responses
// are bounded by the caller's context rather than a client-wide timeout.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("huggingface: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// ChatStream starts a streamed chat completion. The returned Stream owns the
// upstream connection; callers must Close it.
func (c *Client) ChatStream(ctx context.Context, in ChatRequest) (*Stream, error) {
	if in.Model == "" {
		return nil, errors.New("huggingface: model must not be empty")
	}
	in.Stream = true

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("huggingface: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("huggingface: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       strings.TrimSpace(string(buf)),
		}
	}
	return newStream(res.Body), nil
}

// textStream adapts a chunk Stream to domain.TextStream.
type textStream struct {
	*Stream
}

func (t textStream) Next() (string, error) {
	chunk, err := t.Stream.Next()
	if err != nil {
		return "", err
	}
	return chunk.Text(), nil
}

// StreamText starts a streamed completion and yields each chunk's first
// choice delta as text. Null deltas and choice-less chunks yield "".
func (c *Client) StreamText(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int) (domain.TextStream, error) {
	s, err := c.ChatStream(ctx, ChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return textStream{Stream: s}, nil
}
