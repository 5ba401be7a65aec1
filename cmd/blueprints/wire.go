//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/swebench-blueprints/cmd/blueprints/config"
	"github.com/onkernel/swebench-blueprints/lib/blueprints"
	"github.com/onkernel/swebench-blueprints/lib/otel"
	"github.com/onkernel/swebench-blueprints/lib/providers"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
)

// application struct to hold initialized components
type application struct {
	Ctx              context.Context
	Logger           *slog.Logger
	Config           *config.Config
	Telemetry        *otel.Telemetry
	Client           *runloop.Client
	BlueprintManager blueprints.Manager
}

// composer holds the components for runs that never call the API
type composer struct {
	Ctx              context.Context
	Logger           *slog.Logger
	Config           *config.Config
	Telemetry        *otel.Telemetry
	BlueprintManager blueprints.Manager
}

// initializeApp is the injector function
func initializeApp(ctx context.Context, cfg *config.Config) (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideTelemetry,
		providers.ProvideRunloopClient,
		providers.ProvideCompositor,
		providers.ProvideManagerConfig,
		providers.ProvideBlueprintManager,
		wire.Struct(new(application), "*"),
	))
}

// initializeComposer is the injector for compose-only runs
func initializeComposer(ctx context.Context, cfg *config.Config) (*composer, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideTelemetry,
		providers.ProvideCompositor,
		providers.ProvideManagerConfig,
		providers.ProvideComposeManager,
		wire.Struct(new(composer), "*"),
	))
}
