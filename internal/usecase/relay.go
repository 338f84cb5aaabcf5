package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/logx"
)

const (
	// MaxTokens is the generation budget sent with every completion.
	MaxTokens = 500

	defaultTimeout = 2 * time.Minute
	archiveTimeout = 5 * time.Second
)

// LLMClient starts a streamed chat completion.
type LLMClient interface {
	StreamText(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int) (domain.TextStream, error)
}

// Archiver stores completed exchanges. Implemented by repository.Client.
type Archiver interface {
	NewExchange(requestID, model, message, response string, chunks int) domain.Exchange
	SaveExchange(ctx context.Context, ex domain.Exchange) error
}

// Relay outcomes reported to Observer.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeUpstream = "upstream_error"
	OutcomeInternal = "internal_error"
)

// Observer receives relay measurements. Implemented by metrics.Metrics.
type Observer interface {
	ObserveRelay(outcome string, chunks int, d time.Duration)
	ArchiveFailed()
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type RelayService struct {
	llm      LLMClient
	model    string
	timeout  time.Duration
	archiver Archiver
	observer Observer
	now      func() time.Time
}

type Option func(*RelayService)

// WithTimeout bounds the whole upstream call, stream included.
func WithTimeout(d time.Duration) Option {
	return func(s *RelayService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(s *RelayService) {
		s.archiver = a
	}
}

func WithObserver(o Observer) Option {
	return func(s *RelayService) {
		s.observer = o
	}
}

type RelayInput struct {
	Message   string
	RequestID string
}

type RelayOutput struct {
	Response string
	Chunks   int
}

func NewRelayService(llm LLMClient, model string, opts ...Option) (*RelayService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	s := &RelayService{
		llm:     llm,
		model:   model,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Relay sends in.Message as a single user turn and returns the concatenation
// of every streamed fragment. Any upstream failure discards the partial text
// and is returned as an *Error with code ErrorUpstream.
func (s *RelayService) Relay(ctx context.Context, in RelayInput) (RelayOutput, error) {
	start := s.now()
	text, chunks, err := s.accumulate(ctx, in.Message)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.observe(OutcomeUpstream, chunks, elapsed)
		return RelayOutput{}, newError(ErrorUpstream, upstreamReason(err), err)
	}
	s.observe(OutcomeOK, chunks, elapsed)

	s.archive(ctx, in, text, chunks)

	return RelayOutput{Response: text, Chunks: chunks}, nil
}

func (s *RelayService) accumulate(ctx context.Context, message string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := s.llm.StreamText(ctx, s.model, buildMessages(message), MaxTokens)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	chunks := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), chunks, nil
		}
		if err != nil {
			return "", chunks, err
		}
		chunks++
		sb.WriteString(fragment)
	}
}

// archive is best effort; a failure never changes the relay result.
func (s *RelayService) archive(ctx context.Context, in RelayInput, response string, chunks int) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	ex := s.archiver.NewExchange(in.RequestID, s.model, in.Message, response, chunks)
	if err := s.archiver.SaveExchange(ctx, ex); err != nil {
		logx.Log.Warn().Err(err).Str("request_id", in.RequestID).Msg("archive exchange")
		if s.observer != nil {
			s.observer.ArchiveFailed()
		}
	}
}

func (s *RelayService) observe(outcome string, chunks int, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveRelay(outcome, chunks, d)
	}
}

func upstreamReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream_timeout"
	case errors.Is(err, context.Canceled):
		return "upstream_canceled"
	}
	if _, ok := upstreamStatusCode(err); ok {
		return "upstream_status"
	}
	return "upstream_stream_error"
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
