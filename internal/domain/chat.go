package domain

import "time"

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Exchange is one archived relay: the inbound message and the accumulated
// upstream answer.
type Exchange struct {
	PK        string
	SK        string
	ID        string
	RequestID string
	Model     string
	Message   string
	Response  string
	Chunks    int
	CreatedAt time.Time
	TTL       int64
}

// TextStream is a finite, single-consumption sequence of text fragments.
// Next returns io.EOF once the sequence is exhausted. Close releases the
// underlying connection and must be called on every exit path.
type TextStream interface {
	Next() (string, error)
	Close() error
}
