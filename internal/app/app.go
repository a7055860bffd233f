// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the agent bridge's components into a running process:
// session store, event bus, turn runner, usage meter, native archive reader,
// and HTTP/SSE surface, plus their ordered startup and shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/arborly/codexd/internal/agent"
	"github.com/arborly/codexd/internal/api"
	"github.com/arborly/codexd/internal/archive"
	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/config"
	"github.com/arborly/codexd/internal/session"
)

// Options holds the resolved startup configuration for an App.
type Options struct {
	ConfigPath string
	Bind       string
	DataDir    string
	CodexPath  string
	CodexHome  string
	WebDist    string
	LogLevel   string
}

// App is the application container: it owns every long-lived component and
// the HTTP listener built on top of them.
type App struct {
	mu sync.Mutex

	config *config.Config
	logger *log.Logger

	store    *session.Store
	eventBus *bus.Bus
	usage    *agent.UsageMeter
	runner   *agent.Runner
	arch     *archive.Reader

	httpServer *http.Server

	done     chan struct{}
	stopOnce sync.Once
}

// New loads configuration (file, then flag overrides) and returns an
// unstarted App. Call Run (which initializes and starts it), or Initialize
// then Start.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyFlagOverrides(cfg, opts.Bind, opts.DataDir, opts.CodexPath, opts.CodexHome, opts.WebDist, opts.LogLevel)

	if cfg.Agent.DataDir == "" {
		cfg.Agent.DataDir = defaultDataDir()
	}
	if cfg.Agent.CodexPath == "" {
		cfg.Agent.CodexPath = "codex"
	}
	if cfg.Agent.CodexHome == "" {
		cfg.Agent.CodexHome = defaultCodexHome()
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &App{
		config: cfg,
		logger: log.New(os.Stderr, "", log.LstdFlags),
		done:   make(chan struct{}),
	}, nil
}

// Initialize constructs every component. Failure to resolve the native
// archive home is a warning, not a fatal error: the bridge degrades to
// local-only session listing.
func (a *App) Initialize(ctx context.Context) error {
	cfg := a.config

	store, err := session.NewStore(cfg.Agent.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.store = store

	a.eventBus = bus.New()
	a.usage = agent.NewUsageMeter(a.store, a.eventBus)
	a.runner = agent.NewRunner(a.store, a.eventBus, a.usage, cfg.Agent.CodexPath, nil)

	codexHome := cfg.Agent.CodexHome
	if codexHome != "" {
		a.arch = archive.NewReader(codexHome)
		if err := a.arch.Scan(); err != nil {
			a.logger.Printf("warning: initial archive scan failed: %v", err)
		}
	} else {
		a.logger.Printf("warning: could not resolve agent home, native session listing disabled")
	}

	deps := &api.Deps{
		Store:     a.store,
		Bus:       a.eventBus,
		Runner:    a.runner,
		Archive:   a.arch,
		AgentHome: codexHome,
		Logger:    a.logger,
	}

	a.httpServer = &http.Server{
		Addr:    cfg.Server.Bind,
		Handler: api.NewRouter(deps),
	}

	return nil
}

// Start begins serving HTTP in the background.
func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.httpServer.Addr, err)
	}

	go func() {
		a.logger.Printf("listening on %s", a.httpServer.Addr)
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Printf("http server error: %v", err)
		}
	}()

	return nil
}

// Run initializes, starts, and blocks until a shutdown signal, context
// cancellation, or explicit Stop call, then shuts everything down in order.
func (a *App) Run(ctx context.Context, sigCh <-chan os.Signal) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case sig := <-sigCh:
		a.logger.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
		a.logger.Printf("context cancelled, shutting down")
	case <-a.done:
		a.logger.Printf("shutdown requested")
	}

	return a.Shutdown(context.Background())
}

// Shutdown tears down components in reverse dependency order, bounded by a
// fixed timeout so a wedged subprocess can never hang the process exit.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Printf("error shutting down http server: %v", err)
		}
	}

	if a.runner != nil {
		a.runner.StopAll()
	}

	a.logger.Printf("shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codexd"
	}
	return home + "/.codexd"
}

func defaultCodexHome() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.codex"
}
