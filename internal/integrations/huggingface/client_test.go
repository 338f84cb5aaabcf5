package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://router.huggingface.co/v1", "https://router.huggingface.co/v1/chat/completions"},
		{"https://router.huggingface.co/v1/", "https://router.huggingface.co/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://router.huggingface.co/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_EmptyKey(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient("hf_test")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "hf_test", c.apiKey)
}

// ---------------------------------------------------------------------------
// Client.ChatStream
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		"hf_test",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, l := range lines {
			_, _ = io.WriteString(w, l+"\n\n")
		}
	}))
}

func deltaEvent(content string) string {
	return `data: {"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":` +
		jsonString(content) + `},"finish_reason":null}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func drain(t *testing.T, s *Stream) (string, error) {
	t.Helper()
	var sb strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk.Text())
	}
}

func TestClient_ChatStream_RequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.ChatStream(context.Background(), ChatRequest{
		Model:     "mistralai/Mistral-Nemo-Instruct-2407",
		Messages:  []domain.ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 500,
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	out, err := drain(t, s)
	require.NoError(t, err)
	require.Equal(t, "", out)

	require.Equal(t, "mistralai/Mistral-Nemo-Instruct-2407", got["model"])
	require.Equal(t, true, got["stream"])
	require.EqualValues(t, 500, got["max_tokens"])
	require.Equal(t, []any{map[string]any{"role": "user", "content": "hi"}}, got["messages"])
}

func TestClient_ChatStream_EmptyModel(t *testing.T) {
	c, err := NewClient("hf_test")
	require.NoError(t, err)
	_, err = c.ChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_ChatStream_Accumulates(t *testing.T) {
	srv := sseServer(t,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":null},"finish_reason":null}]}`,
		deltaEvent("Hel"),
		": keep-alive",
		deltaEvent("lo"),
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		"data: [DONE]",
	)
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	out, err := drain(t, s)
	require.NoError(t, err)
	require.Equal(t, "Hello", out)

	// exhausted streams stay exhausted
	_, err = s.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestClient_ChatStream_EndWithoutDone(t *testing.T) {
	srv := sseServer(t, deltaEvent("partial"))
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	out, err := drain(t, s)
	require.NoError(t, err)
	require.Equal(t, "partial", out)
}

func TestClient_ChatStream_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials in Authorization header"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "401")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "Invalid credentials")
}

func TestClient_ChatStream_MalformedChunk(t *testing.T) {
	srv := sseServer(t, deltaEvent("ok"), "data: {not-json")
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = drain(t, s)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode chunk")
}

func TestClient_ChatStream_InBandError(t *testing.T) {
	cases := []struct {
		name  string
		event string
		want  string
	}{
		{name: "string", event: `data: {"error":"Model is overloaded","error_type":"overloaded"}`, want: "Model is overloaded"},
		{name: "object", event: `data: {"error":{"message":"Input validation error","type":"validation"}}`, want: "Input validation error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := sseServer(t, deltaEvent("Hel"), tc.event)
			defer srv.Close()

			c := newTestClient(t, srv)
			s, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
			require.NoError(t, err)
			defer func() { _ = s.Close() }()

			_, err = drain(t, s)
			require.Error(t, err)
			var streamErr *StreamError
			require.ErrorAs(t, err, &streamErr)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestClient_ChatStream_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := sseServer(t, "data: [DONE]")
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatStream(ctx, ChatRequest{Model: "m"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func TestStream_CloseIdempotent(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(deltaEvent("x") + "\n")}
	s := newStream(body)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, body.closed)

	_, err := s.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestChunk_Text(t *testing.T) {
	content := "hi"
	require.Equal(t, "", Chunk{}.Text())
	require.Equal(t, "", Chunk{Choices: []ChunkChoice{{}}}.Text())
	require.Equal(t, "hi", Chunk{Choices: []ChunkChoice{{Delta: Delta{Content: &content}}}}.Text())
}

func TestClient_StreamText(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":null}}]}`,
		deltaEvent("Hel"),
		`data: {"choices":[]}`,
		deltaEvent("lo"),
		"data: [DONE]",
	)
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.StreamText(context.Background(), "m", []domain.ChatMessage{{Role: "user", Content: "hi"}}, 500)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var parts []string
	for {
		text, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, text)
	}
	require.Equal(t, []string{"", "Hel", "", "lo"}, parts)
}

func TestClient_StreamText_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.StreamText(context.Background(), "m", nil, 500)
	require.Error(t, err)
	require.Nil(t, s)
}
