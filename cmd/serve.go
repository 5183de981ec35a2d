package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/db"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/api"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/config"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/database"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/embedding"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/provider"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/rag"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/vectorstore"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // generation calls can run long
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the full engine and runs the HTTP server until SIGINT
// or SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting CampusMind engine", "version", AppVersion)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Provider selection happens exactly once, here. Everything downstream
	// sees the closed capability interfaces.
	vectorizer, generator, err := provider.New(ctx, provider.Settings{
		Provider:     cfg.Provider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("configuring AI provider: %w", err)
	}
	logger.Info("AI provider ready", "provider", vectorizer.Name(), "dimension", vectorizer.Dimension())

	embedCache := embedding.NewCache(logger)
	embedSvc := embedding.NewService(vectorizer, embedCache, logger)

	store, err := newVectorStore(cfg, pool, vectorizer.Dimension(), logger)
	if err != nil {
		return fmt.Errorf("configuring vector store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("closing vector store", "error", closeErr)
		}
	}()

	resources, err := resource.New(pool, logger)
	if err != nil {
		return fmt.Errorf("creating resource store: %w", err)
	}

	answers := rag.NewAnswerCache(logger)
	engine := rag.New(embedSvc, store, generator, resources, answers, logger)

	// The sweeper owns cache expiry for the whole process.
	sweeper := cache.NewSweeper(logger, embedCache, answers)
	stopSweeper := startSweeper(ctx, sweeper)
	defer stopSweeper()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:          logger,
		Engine:          engine,
		Resources:       resources,
		Embedding:       embedSvc,
		DB:              pool,
		TrustProxy:      cfg.TrustProxy,
		RateBurst:       cfg.RateBurst,
		DefaultTopK:     cfg.TopK,
		DefaultMinScore: cfg.MinScore,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ServerAddr,
		"api", "/api/*",
		"health", "/health, /ready",
		"vector_backend", cfg.VectorBackend,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// startSweeper runs the sweeper goroutine under a context derived from
// ctx. The returned stop function cancels that context and then waits for
// the goroutine, so it returns on every exit path, including ones where
// ctx itself was never canceled (e.g. the server failing to bind).
func startSweeper(ctx context.Context, sweeper *cache.Sweeper) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// newVectorStore builds the configured vector store backend. The chromem
// backend is in-memory: chunks do not survive a restart and need
// re-ingestion.
func newVectorStore(cfg *config.Config, pool *pgxpool.Pool, dimension int, logger *slog.Logger) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendChromem:
		return vectorstore.NewChromem(dimension, logger)
	default:
		return vectorstore.NewPostgres(pool, logger)
	}
}
