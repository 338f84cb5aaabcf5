package main

import (
	"context"
	"flag"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"chat-relay/internal/app"
	"chat-relay/internal/config"
	"chat-relay/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(flag.NewFlagSet("lambda", flag.ContinueOnError), nil)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load config")
	}
	// CloudWatch wants JSON lines unless told otherwise.
	if _, ok := os.LookupEnv("LOG_FORMAT"); !ok {
		cfg.LogFormat = "json"
	}
	logx.Configure(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid config")
	}

	// ---- Handler ----
	h, err := app.New(ctx, cfg, app.BuildInfo{Version: version, SHA: buildSHA, Date: buildDate})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("startup")
	}

	lambda.Start(h.Handle)
}
