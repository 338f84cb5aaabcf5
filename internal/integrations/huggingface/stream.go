package huggingface

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

var (
	ssePrefix = []byte("data:")
	sseDone   = []byte("[DONE]")
)

// Chunk is one chat.completion.chunk event.
type Chunk struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []ChunkChoice   `json:"choices"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ChunkChoice is a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental content of a choice. Content is a pointer because
// providers send "content": null on role-only and final chunks.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content"`
}

// Text returns the first choice's delta content, or "" when the chunk has no
// choices or the content is null.
func (c Chunk) Text() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

// StreamError is an error event sent in-band by the upstream after the
// stream has started.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "huggingface: stream error: " + e.Message
}

// Stream is a lazy, single-consumption sequence of chunks read from an SSE
// response body.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: scanner}
}

// Next returns the next chunk. It returns io.EOF once the upstream signals
// completion with [DONE] or ends the body cleanly.
func (s *Stream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if !bytes.HasPrefix(line, ssePrefix) {
			// blank separators, comments, event: and id: fields
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix))
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, sseDone) {
			s.done = true
			return Chunk{}, io.EOF
		}

		var chunk Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return Chunk{}, fmt.Errorf("huggingface: decode chunk: %w", err)
		}
		if len(chunk.Error) > 0 && !bytes.Equal(chunk.Error, []byte("null")) {
			return Chunk{}, &StreamError{Message: errorMessage(chunk.Error)}
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("huggingface: read stream: %w", err)
	}
	s.done = true
	return Chunk{}, io.EOF
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// errorMessage accepts both {"error":"text"} and {"error":{"message":"text"}}.
func errorMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
