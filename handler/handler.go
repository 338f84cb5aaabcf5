package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"chat-relay/internal/logx"
	"chat-relay/internal/usecase"
)

const welcomeMessage = "Welcome to the FastAPI Chat Service!"

// Relayer is the chat use case consumed by the HTTP layer.
type Relayer interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
}

// Observer records requests rejected before reaching the use case.
type Observer interface {
	ObserveRelay(outcome string, chunks int, d time.Duration)
}

type chatRequest struct {
	Message *string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type welcomeResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler serves the relay API over net/http and, through Handle, API
// Gateway proxy events.
type Handler struct {
	uc       Relayer
	observer Observer
	origins  []string
	metrics  http.Handler
	router   chi.Router
}

type Option func(*Handler)

// WithAllowedOrigins sets the CORS origins; "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.origins = origins
	}
}

// WithMetricsHandler mounts m on GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithObserver(o Observer) Option {
	return func(h *Handler) {
		h.observer = o
	}
}

func NewHandler(uc Relayer, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, origins: []string{"*"}}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h, nil
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(corsMiddleware(h.origins))
	r.Use(correlationID)
	r.Use(requestLogger)

	r.Get("/", h.root)
	r.Post("/chat", h.chat)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, welcomeResponse{Message: welcomeMessage})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	message, err := decodeChatRequest(r.Body)
	if err != nil {
		if h.observer != nil {
			h.observer.ObserveRelay(usecase.OutcomeInvalid, 0, 0)
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}

	requestID := CorrelationIDFrom(r.Context())
	out, err := h.uc.Relay(r.Context(), usecase.RelayInput{Message: message, RequestID: requestID})
	if err != nil {
		h.writeRelayError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: out.Response})
}

func (h *Handler) writeRelayError(w http.ResponseWriter, requestID string, err error) {
	detail := err.Error()
	reason := "unexpected"
	var usecaseErr *usecase.Error
	if errors.As(err, &usecaseErr) {
		detail = usecaseErr.Detail()
		reason = usecaseErr.Reason
	} else if h.observer != nil {
		h.observer.ObserveRelay(usecase.OutcomeInternal, 0, 0)
	}
	logx.Log.Error().Err(err).Str("request_id", requestID).Str("reason", reason).Msg("chat relay failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: detail})
}

// decodeChatRequest requires a JSON object with a string "message" field.
// The content itself is not constrained.
func decodeChatRequest(body io.Reader) (string, error) {
	var req chatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "message" {
			return "", errors.New("message: input should be a valid string")
		}
		return "", fmt.Errorf("body: invalid JSON: %w", err)
	}
	if req.Message == nil {
		return "", errors.New("message: field required")
	}
	return *req.Message, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Warn().Err(err).Msg("write response")
	}
}
