// Package app builds the relay handler from resolved configuration. Both the
// HTTP server and the Lambda entry point share it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay/handler"
	"chat-relay/internal/config"
	"chat-relay/internal/credential"
	"chat-relay/internal/integrations/huggingface"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/logx"
	"chat-relay/internal/metrics"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

// BuildInfo is stamped at link time and exported as chat_relay_build_info.
type BuildInfo struct {
	Version string
	SHA     string
	Date    string
}

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// New wires the upstream client, optional archive and metrics into a
// handler. It resolves the API token, so it fails fast on a bad credential.
func New(ctx context.Context, cfg config.ServerConfig, info BuildInfo) (*handler.Handler, error) {
	var (
		getter   credential.Getter
		archiver usecase.Archiver
	)
	if cfg.NeedsAWS() {
		awsCfg, err := loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.APIKeyParam != "" {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("app: create SSM client: %w", err)
			}
			getter = ps
		}
		if cfg.ArchiveTable != "" {
			repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ArchiveTable)
			if err != nil {
				return nil, fmt.Errorf("app: create archive client: %w", err)
			}
			archiver = repo
			logx.Log.Info().Str("table", cfg.ArchiveTable).Msg("exchange archive enabled")
		}
	}

	token, err := credential.Resolve(ctx, credential.Source{Key: cfg.APIKey, Param: cfg.APIKeyParam}, getter)
	if err != nil {
		return nil, err
	}
	llm, err := huggingface.NewClient(token, huggingface.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create upstream client: %w", err)
	}

	relayOpts := []usecase.Option{usecase.WithTimeout(cfg.UpstreamTimeout)}
	if archiver != nil {
		relayOpts = append(relayOpts, usecase.WithArchiver(archiver))
	}
	handlerOpts := []handler.Option{handler.WithAllowedOrigins(cfg.AllowedOrigins)}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.New(reg)
		m.SetBuildInfo(info.Version, info.SHA, info.Date)
		relayOpts = append(relayOpts, usecase.WithObserver(m))
		handlerOpts = append(handlerOpts,
			handler.WithObserver(m),
			handler.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		)
	}

	svc, err := usecase.NewRelayService(llm, cfg.Model, relayOpts...)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(svc, handlerOpts...)
}

// Server wraps h in an http.Server listening on cfg.Addr(). WriteTimeout is
// left unset so long generations are bounded only by the upstream timeout.
func Server(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
