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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/noterank/internal/api"
	"github.com/starford/noterank/internal/catalog"
	"github.com/starford/noterank/internal/embedding"
	"github.com/starford/noterank/internal/ingest"
	"github.com/starford/noterank/internal/mcpserver"
	"github.com/starford/noterank/internal/recommend"
	"github.com/starford/noterank/internal/sse"
	"github.com/starford/noterank/internal/storage"
	"github.com/starford/noterank/internal/vectorindex"
)

// components is the wired object graph shared by all run modes.
type components struct {
	cfg    *Config
	logger *slog.Logger
	db     *catalog.DB
	broker *sse.Broker
	svc    *recommend.Service
	syncer *ingest.Syncer
}

func (c *components) Close() {
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Warn("close catalog", slog.String("error", err.Error()))
	}
}

func setup(opts []Option) (*components, error) {
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
		slog.String("records_dir", cfg.Records.Dir),
		slog.String("catalog_path", cfg.Catalog.Path),
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	provider, err := newEmbedder(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	embedder := embedding.NewBatcher(provider,
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithConcurrency(cfg.Embedding.Concurrency),
		embedding.WithRateLimit(cfg.Embedding.RequestsPerSecond),
		embedding.WithCache(db, cfg.Embedding.CacheNamespace()),
		embedding.WithLogger(logger),
	)

	idx := vectorindex.New(embedder,
		vectorindex.WithHNSW(cfg.Index.HNSW()),
		vectorindex.WithLogger(logger),
	)

	broker := sse.NewBroker(cfg.Records.EventsThrottle)

	svc := recommend.NewService(db, idx,
		recommend.WithTauDays(cfg.Recommend.TauDays),
		recommend.WithNotifier(broker),
		recommend.WithLogger(logger),
	)

	c := &components{cfg: cfg, logger: logger, db: db, broker: broker, svc: svc}

	if cfg.Records.Enabled() {
		// Ensure records directory exists.
		if err := os.MkdirAll(cfg.Records.Dir, 0o755); err != nil {
			c.Close()
			return nil, fmt.Errorf("create records dir: %w", err)
		}
		store, err := storage.NewFS(cfg.Records.Dir)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.syncer = ingest.NewSyncer(db, svc, store, logger)
	}

	return c, nil
}

func newEmbedder(cfg EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return embedding.NewHashing(cfg.HashingDimensions()), nil
	}
}

// warmUp builds the index from the persisted catalog and then applies the
// records directory.
func (c *components) warmUp(ctx context.Context) {
	n, err := c.svc.Rebuild(ctx)
	if err != nil {
		c.logger.Warn("initial rebuild failed", slog.String("error", err.Error()))
	} else {
		c.logger.Info("Index rebuilt from catalog", slog.Int("notes", n))
	}

	if c.syncer == nil {
		return
	}
	res, err := c.syncer.Sync(ctx)
	if err != nil {
		c.logger.Warn("initial sync failed", slog.String("error", err.Error()))
		return
	}
	c.logger.Info("Records synced",
		slog.Int("files", res.Files),
		slog.Int("notes", res.Notes),
		slog.Int("users", res.Users),
		slog.Int("removed", res.Removed))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg, logger := c.cfg, c.logger
	c.warmUp(ctx)

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Mount("/health", api.NewHealthRouter(c.svc))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start records watcher with SSE callback.
	if c.syncer != nil && cfg.Records.Watch {
		g.Go(func() error {
			err := c.syncer.Watch(gCtx, func(kind, path string) {
				c.broker.PublishRecordEvent(kind, path)
			})
			if err != nil {
				logger.Error("records watcher failed", slog.String("error", err.Error()))
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

		// Close SSE streams first so Shutdown does not wait on them.
		c.broker.Close()

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

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the recommendation tools over MCP stdio. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	c.warmUp(ctx)
	c.logger.Info("Serving MCP on stdio")
	return mcpserver.New(c.svc).ServeStdio()
}

// RunIngest performs a one-shot sync of the records directory and exits.
func RunIngest(ctx context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.syncer == nil {
		return fmt.Errorf("records.dir is not configured")
	}
	c.warmUp(ctx)
	st := c.svc.Status()
	c.logger.Info("Ingest finished",
		slog.String("index_state", string(st.State)),
		slog.Int("documents", st.Documents),
		slog.Uint64("generation", st.Generation))
	return nil
}
