// Package app assembles the engine: it builds the rule registry, compiles
// the rule graph, opens the execution session and exposes the addressable
// build graph over it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/forgectl/internal/buildgraph"
	"github.com/vk/forgectl/internal/ctxlog"
	"github.com/vk/forgectl/internal/rule"
	"github.com/vk/forgectl/internal/rulegraph"
	"github.com/vk/forgectl/internal/scheduler"
)

// Installer contributes rules to the registry before it is sealed. Backends
// use it to add target-type rules and inference plugins.
type Installer func(reg *rule.Registry) error

// App encapsulates the engine's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *rule.Registry
	compiled *rulegraph.Graph
	session  *scheduler.Session
	graph    *buildgraph.Graph
	ctx      context.Context
}

// New constructs a fully initialized App: registry populated and sealed,
// rule graph compiled, session open. Compilation failures are returned, not
// deferred to execution time.
func New(outW io.Writer, cfg *Config, installers ...Installer) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := rule.New()
	if err := buildgraph.InstallRules(reg, cfg.Root); err != nil {
		return nil, fmt.Errorf("installing build graph rules: %w", err)
	}
	for _, install := range installers {
		if err := install(reg); err != nil {
			return nil, fmt.Errorf("installing rules: %w", err)
		}
	}
	reg.Seal()
	logger.Debug("Registry sealed.", "rules", len(reg.Rules()))

	compiled, err := rulegraph.Compile(ctx, reg, buildgraph.Roots())
	if err != nil {
		return nil, fmt.Errorf("compiling rule graph: %w", err)
	}
	logger.Debug("Rule graph compiled.", "nodes", compiled.Len())

	session := scheduler.NewSession(ctx, compiled, scheduler.Options{Workers: cfg.Workers})
	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		compiled: compiled,
		session:  session,
		graph:    buildgraph.New(session, cfg.Root),
		ctx:      ctx,
	}, nil
}

// Context returns the application context carrying the configured logger.
func (a *App) Context() context.Context {
	return a.ctx
}

// Graph returns the addressable build graph.
func (a *App) Graph() *buildgraph.Graph {
	return a.graph
}

// Compiled returns the compiled rule graph.
func (a *App) Compiled() *rulegraph.Graph {
	return a.compiled
}

// Session returns the execution session.
func (a *App) Session() *scheduler.Session {
	return a.session
}

// Registry returns the application's registry. This is primarily for
// testing.
func (a *App) Registry() *rule.Registry {
	return a.registry
}
