// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mythnote/internal/api"
	"github.com/starford/mythnote/internal/gitsync"
	"github.com/starford/mythnote/internal/index"
	"github.com/starford/mythnote/internal/mcpserver"
	"github.com/starford/mythnote/internal/noteservice"
	"github.com/starford/mythnote/internal/rebuild"
	"github.com/starford/mythnote/internal/storage"
	"github.com/starford/mythnote/internal/syncworker"
	"github.com/starford/mythnote/internal/watcher"
)

// components are the long-lived parts shared by every command.
type components struct {
	cfg     *Config
	logger  *slog.Logger
	store   *storage.FS
	db      *index.DB
	git     *gitsync.Manager
	svc     *noteservice.Service
	rebuild *rebuild.Coordinator
}

func setup(ctx context.Context, opts ...Option) (*components, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("repos_path", cfg.Storage.ReposPath),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("git", cfg.Git.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Storage.ReposPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	db.WithLogger(logger)

	c := &components{cfg: cfg, logger: logger, store: store, db: db}
	svcOpts := []noteservice.Option{noteservice.WithLogger(logger)}
	if cfg.Git.Enabled {
		c.git = gitsync.New(store, filepath.Join(store.Root(), ".locks"),
			gitsync.WithGitBinary(cfg.Git.Binary),
			gitsync.WithLogger(logger))
		svcOpts = append(svcOpts, noteservice.WithGit(c.git))
	}
	c.svc = noteservice.New(store, db, svcOpts...)

	c.rebuild = rebuild.New(c.svc.Rebuild,
		rebuild.WithTTL(cfg.Rebuild.QueuedTTL, cfg.Rebuild.RunningTTL),
		rebuild.WithBaseContext(ctx),
		rebuild.WithLogger(logger))
	c.svc.SetRebuilder(c.rebuild)
	return c, nil
}

func (c *components) Close() {
	if err := c.db.Close(); err != nil {
		c.logger.Error("close index", slog.String("error", err.Error()))
	}
}

// rebuildAll queues a rebuild for every user directory on disk.
func (c *components) rebuildAll() error {
	users, err := c.store.Users()
	if err != nil {
		return err
	}
	for _, id := range users {
		c.rebuild.RequestRebuild(id)
	}
	c.logger.Info("Rebuild on start requested", slog.Int("users", len(users)))
	return nil
}

func (c *components) syncWorker() *syncworker.Worker {
	return &syncworker.Worker{
		Interval:  c.cfg.Sync.Interval,
		Users:     c.db,
		Syncer:    c.git,
		Rebuilder: c.rebuild,
		Logger:    c.logger,
	}
}

func (c *components) router() chi.Router {
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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(c.svc, c.cfg.Auth.AuthEnabled(), c.cfg.Auth.Token, c.cfg.Auth.DefaultUser))
	return r
}

// Run starts the HTTP server and the background workers.
func Run(ctx context.Context, opts ...Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.cfg, c.logger

	if cfg.Rebuild.OnStart {
		if err := c.rebuildAll(); err != nil {
			logger.Warn("rebuild on start failed", slog.String("error", err.Error()))
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           c.router(),
		ReadHeaderTimeout: cfg.App.HTTP.ReadHeaderTimeout,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watcher.Enabled {
		w := watcher.New(c.store, c.svc,
			watcher.WithDebounce(cfg.Watcher.Debounce),
			watcher.WithLogger(logger),
			watcher.WithCallback(func(userID int64, name string) {
				logger.Debug("note reindexed from disk", slog.Int64("user", userID), slog.String("path", name))
			}))
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if cfg.Sync.Enabled {
		worker := c.syncWorker()
		g.Go(func() error {
			return worker.Run(gCtx)
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

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the watcher, the sync worker and queued rebuilds.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunRebuild rebuilds one user's index in the foreground, or every user's
// when userID is 0.
func RunRebuild(ctx context.Context, userID int64, opts ...Option) error {
	c, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	users := []int64{userID}
	if userID == 0 {
		if users, err = c.store.Users(); err != nil {
			return err
		}
	}
	var errs []error
	for _, id := range users {
		if err := c.svc.Rebuild(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunSync syncs one user's repository, or runs a single pass of the sync
// worker over all configured users when userID is 0. Rebuilds requested by
// the sync are awaited.
func RunSync(ctx context.Context, userID int64, opts ...Option) error {
	c, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	if c.git == nil {
		return fmt.Errorf("git is disabled")
	}

	if userID != 0 {
		res, err := c.svc.Sync(ctx, userID)
		if err != nil {
			return err
		}
		c.logger.Info("Sync finished", slog.Int64("user", userID), slog.Bool("changed", res.Changed))
		return c.rebuild.Wait(ctx, userID)
	}

	users, err := c.db.ListSyncUsers(ctx)
	if err != nil {
		return err
	}
	n := c.syncWorker().RunOnce(ctx)
	c.logger.Info("Sync pass finished", slog.Int("synced", n), slog.Int("users", len(users)))
	for _, u := range users {
		if err := c.rebuild.Wait(ctx, u.ID); err != nil {
			c.logger.Warn("rebuild after sync failed", slog.Int64("user", u.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// RunMCP serves the MCP tools over stdio for the configured user. Logs go
// to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(os.Stderr))...)
	if err != nil {
		return err
	}
	defer c.Close()
	c.logger.Info("MCP server starting", slog.Int64("user", c.cfg.MCP.UserID))
	return mcpserver.New(c.svc, c.cfg.MCP.UserID).ServeStdio()
}
