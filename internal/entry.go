// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/engine"
	"github.com/starford/ansuz/internal/guard"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{mode: ModeServe, out: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// stdout belongs to the protocol in mcp mode and to the scene in resolve mode.
	var logOut io.Writer = os.Stdout
	if app.mode != ModeServe {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("mode", app.mode),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("cache_path", cfg.Cache.Path),
		slog.Int("default_budget", cfg.Engine.DefaultBudget),
		slog.Int("max_budget", cfg.Engine.MaxBudget),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := newCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	switch app.mode {
	case ModeServe:
		return runServe(ctx, cfg, c, logger)
	case ModeMCP:
		return runMCP(ctx, c, logger)
	case ModeResolve:
		return runResolve(ctx, app, c)
	default:
		return fmt.Errorf("unknown mode %q", app.mode)
	}
}

// core is the engine together with the resources it owns.
type core struct {
	files  *storage.FS
	db     *index.DB
	engine *engine.Engine
	logger *slog.Logger
}

func newCore(cfg *Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	files, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	extra, err := cfg.Guard.Rules()
	if err != nil {
		return nil, fmt.Errorf("init guard: %w", err)
	}
	g := guard.Default(extra...)

	db, err := index.OpenOrReset(cfg.Cache.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}

	idx := cache.New(files, db, logger, cache.Options{
		FlushInterval: cfg.Cache.FlushInterval,
		FlushCount:    cfg.Cache.FlushCount,
	})
	warmed := idx.Warm()

	eng := engine.New(files, idx, db, g, logger, engine.Options{
		DefaultBudget: cfg.Engine.DefaultBudget,
		MaxBudget:     cfg.Engine.MaxBudget,
		ParseWorkers:  cfg.Engine.ParseWorkers,
	})

	logger.Info("Engine ready",
		slog.String("vault_root", files.Root()),
		slog.Int("cached_documents", warmed),
		slog.Any("guard_rules", g.Rules()))

	return &core{files: files, db: db, engine: eng, logger: logger}, nil
}

func (c *core) close() {
	if err := c.engine.Close(); err != nil {
		c.logger.Error("engine close error", slog.String("error", err.Error()))
	}
	if err := c.db.Close(); err != nil {
		c.logger.Error("cache store close error", slog.String("error", err.Error()))
	}
}

// sync refreshes the cache and the search index from the vault.
func (c *core) sync(ctx context.Context) {
	report, err := c.engine.Sync(ctx)
	if err != nil {
		c.logger.Warn("initial sync failed", slog.String("error", c.engine.Guard().RedactError(err)))
		return
	}
	c.logger.Info("Initial sync complete",
		slog.Int("documents", report.Documents),
		slog.Int64("parsed", report.Parsed),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed))
}

func runResolve(ctx context.Context, app *application, c *core) error {
	if len(app.roots) == 0 {
		return fmt.Errorf("resolve: at least one root is required")
	}
	scene, err := c.engine.Resolve(ctx, app.roots, app.budget)
	if err != nil {
		return errors.New(c.engine.Guard().RedactError(err))
	}
	_, err = fmt.Fprintln(app.out, engine.Render(scene))
	return err
}

func runMCP(ctx context.Context, c *core, logger *slog.Logger) error {
	c.sync(ctx)
	logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(c.engine).ServeStdio(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cfg *Config, c *core, logger *slog.Logger) error {
	c.sync(ctx)

	// SSE broker.
	broker := sse.NewBroker(cfg.Watcher.SceneThrottle, c.engine.Guard().Redact)
	defer broker.Close()

	apiRouter := api.NewRouter(c.engine, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"cache":   c.engine.CacheStats(),
			"clients": broker.ClientCount(),
		})
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher feeding the SSE broker.
	if cfg.Watcher.Enabled {
		w := watcher.New(c.engine, logger, watcher.Options{
			Dir:      c.files.Root(),
			Roots:    cfg.Watcher.Roots,
			Budget:   cfg.Watcher.Budget,
			Debounce: cfg.Watcher.Debounce,
		}, watcher.Handlers{
			OnChange: func(ch watcher.Change) { broker.PublishChange(ch.Kind, ch.ID) },
			OnScene:  broker.PublishScene,
		})
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				return fmt.Errorf("watcher error: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the remaining errgroup members once a signal arrives.
var errShutdown = errors.New("shutdown requested")
