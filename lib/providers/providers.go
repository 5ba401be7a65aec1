package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onkernel/swebench-blueprints/cmd/blueprints/config"
	"github.com/onkernel/swebench-blueprints/lib/blueprints"
	"github.com/onkernel/swebench-blueprints/lib/dockerfile"
	"github.com/onkernel/swebench-blueprints/lib/logger"
	"github.com/onkernel/swebench-blueprints/lib/otel"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
)

// Version is stamped at build time
var Version = "dev"

// ProvideLogger provides a structured logger and installs it as the slog
// default, so context lookups without a logger use the configured format
func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(os.Stderr, cfg.LogFormat, level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

// ProvideTelemetry provides the meter and tracer. The cleanup flushes exporters.
func ProvideTelemetry(ctx context.Context, cfg *config.Config, log *slog.Logger) (*otel.Telemetry, func(), error) {
	tel, err := otel.Init(ctx, otel.Config{
		Endpoint:       cfg.OtelEndpoint,
		ServiceName:    cfg.OtelServiceName,
		ServiceVersion: Version,
		Insecure:       cfg.OtelInsecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}
	return tel, cleanup, nil
}

// ProvideRunloopClient provides the Runloop API client
func ProvideRunloopClient(cfg *config.Config, tel *otel.Telemetry) (*runloop.Client, error) {
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	metrics, err := runloop.NewHTTPMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}
	return runloop.NewClient(cfg.RunloopAPIURL, cfg.RunloopAPIKey,
		runloop.WithTimeout(cfg.RunloopHTTPTimeout),
		runloop.WithMetrics(metrics),
	)
}

// ProvideCompositor provides the Dockerfile compositor
func ProvideCompositor(cfg *config.Config) (*dockerfile.Compositor, error) {
	return dockerfile.NewCompositor(cfg.BaseImage)
}

// ProvideManagerConfig maps application config onto the blueprint manager config
func ProvideManagerConfig(cfg *config.Config) blueprints.Config {
	mc := blueprints.DefaultConfig()
	mc.OutputDir = cfg.OutputDir
	mc.PollInterval = cfg.PollInterval
	mc.BuildTimeout = cfg.BuildTimeout
	mc.MaxPolls = cfg.MaxPolls
	mc.MaxConcurrentBuilds = cfg.MaxConcurrentBuilds
	mc.SkipExisting = cfg.SkipExisting
	mc.ListLimit = cfg.ListLimit
	mc.FailFast = cfg.FailFast
	mc.MaxDockerfileSize = cfg.MaxDockerfileSize
	return mc
}

// ProvideBlueprintManager provides the blueprint manager
func ProvideBlueprintManager(mc blueprints.Config, client *runloop.Client, compositor *dockerfile.Compositor, log *slog.Logger, tel *otel.Telemetry) (blueprints.Manager, error) {
	return blueprints.NewManager(mc, client, compositor, log, tel.Meter, tel.Tracer)
}

// ProvideComposeManager provides a blueprint manager with no API access,
// for compose-only runs that must work without credentials
func ProvideComposeManager(mc blueprints.Config, compositor *dockerfile.Compositor, log *slog.Logger, tel *otel.Telemetry) (blueprints.Manager, error) {
	return blueprints.NewManager(mc, nil, compositor, log, tel.Meter, tel.Tracer)
}
