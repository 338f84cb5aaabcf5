package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/app"
	"chat-relay/internal/config"
	"chat-relay/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load config")
	}
	if *showVersion {
		fmt.Printf("chat-relay %s (%s, %s)\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h, err := app.New(ctx, cfg, app.BuildInfo{Version: version, SHA: buildSHA, Date: buildDate})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("startup")
	}
	srv := app.Server(cfg, h)

	go func() {
		<-ctx.Done()
		logx.Log.Info().Msg("shutdown requested")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()

	logx.Log.Info().
		Str("addr", srv.Addr).
		Str("model", cfg.Model).
		Str("version", version).
		Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	logx.Log.Info().Msg("server stopped")
}
