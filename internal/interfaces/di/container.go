// Package di wires the application together: configuration, logging, cache,
// installer, session engine, registry client, and the execution service on
// top of them.
package di

import (
	"context"
	"fmt"

	"mcpforge.dev/cli/internal/application/services"
	"mcpforge.dev/cli/internal/auth"
	"mcpforge.dev/cli/internal/cache"
	"mcpforge.dev/cli/internal/config"
	"mcpforge.dev/cli/internal/installer"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/process"
	"mcpforge.dev/cli/internal/registry"
	"mcpforge.dev/cli/internal/runtime"
)

// Options are the command-line overrides applied on top of the loaded
// configuration. Zero values leave the configured value in place.
type Options struct {
	ConfigPath  string
	CacheDir    string
	RegistryURL string
	Debug       bool
}

// Container holds every constructed component. Commands reach through it
// instead of constructing their own dependencies.
type Container struct {
	Config    config.Config
	Logger    logging.Logger
	Cache     *cache.Manager
	Executor  *process.Executor
	Installer *installer.Installer
	Engine    *runtime.Engine
	Registry  *registry.Client
	Execution *services.ExecutionService
}

// NewContainer loads configuration, applies overrides, and constructs the
// component graph.
func NewContainer(opts Options) (*Container, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}
	if opts.RegistryURL != "" {
		cfg.RegistryURL = opts.RegistryURL
	}
	if opts.Debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewConsoleLogger(cfg.Debug)

	cacheManager, err := cache.NewManager(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	executor := process.NewExecutor()
	inst := installer.New(cacheManager, executor, logger, cfg.InstallTimeout)
	engine := runtime.NewEngine(executor, logger, runtime.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.SessionIdleTimeout,
		MaxLifetime:      cfg.SessionMaxLifetime,
	})
	client := registry.NewClient(cfg.RegistryURL)
	execution := services.NewExecutionService(client, inst, engine, auth.OSEnvironment, logger)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Cache:     cacheManager,
		Executor:  executor,
		Installer: inst,
		Engine:    engine,
		Registry:  client,
		Execution: execution,
	}, nil
}

// Shutdown closes every live session and releases engine resources.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Engine == nil {
		return nil
	}
	return c.Engine.Shutdown(ctx)
}
