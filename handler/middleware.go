package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-relay/internal/logx"
)

const correlationHeader = "X-Correlation-Id"

type correlationKey struct{}

// CorrelationIDFrom returns the request's correlation id, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// correlationID echoes the caller's X-Correlation-Id or generates one.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = logx.Log.Warn()
		case zerolog.GlobalLevel() <= zerolog.DebugLevel:
			ev = logx.Log.Debug().Interface("headers", r.Header)
		default:
			ev = logx.Log.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", CorrelationIDFrom(r.Context())).
			Msg("http")
	})
}

// corsMiddleware allows every method and header with credentials. A "*"
// origin reflects the caller's origin, since browsers reject a literal "*"
// on credentialed responses.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		// go-chi/cors has no method wildcard; this is every method net/http
		// defines and stands in for "*".
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodConnect,
			http.MethodOptions, http.MethodTrace,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{correlationHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.Handler(opts)
}
