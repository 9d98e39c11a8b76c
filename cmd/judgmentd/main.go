// Package main is the entry point for the judgment service daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onlyreason/judgment/internal/config"
	"github.com/onlyreason/judgment/internal/consolidation"
	"github.com/onlyreason/judgment/internal/extraction"
	"github.com/onlyreason/judgment/internal/judgment"
	"github.com/onlyreason/judgment/internal/llm"
	"github.com/onlyreason/judgment/internal/memory"
	"github.com/onlyreason/judgment/internal/retrieval"
	"github.com/onlyreason/judgment/internal/server"
	"github.com/onlyreason/judgment/internal/training"
)

func main() {
	// Load configuration from environment
	cfg := config.Load()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, cleanup, err := initializeService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(),
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("judgment service listening on %s (db=%s, embedder=%s)", cfg.HTTPAddr, cfg.DBType, cfg.EmbedderMode)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to serve: %v", err)
	}
}

// initializeService creates and wires all service handles. They are
// constructed once here and passed by reference to each request-scoped
// operation; there is no ambient global state.
func initializeService(ctx context.Context, cfg config.Config) (*server.Server, func(), error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := selectEmbedder(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	trainer := training.NewHandler(
		store,
		extraction.NewHeuristicExtractor(),
		judgment.NewEngine(nil),
		embedder,
		training.NewStubTranscriber(),
	)
	envelopes := retrieval.NewEnvelopeBuilder(store, embedder)
	consolidator := consolidation.NewNightlyConsolidator(store, nil, nil)

	srv := server.New(store, embedder, trainer, envelopes, consolidator, cfg.ServiceToken)

	cleanup := func() {
		store.Close()
	}

	return srv, cleanup, nil
}

// openStore connects to the configured persistence backend.
func openStore(ctx context.Context, cfg config.Config) (memory.Store, error) {
	switch cfg.DBType {
	case "sqlite":
		store, err := memory.NewSQLiteStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
		}
		return store, nil
	default:
		store, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return store, nil
	}
}

// selectEmbedder picks the embedding capability mode. The choice is
// explicit at startup; there is no silent fallback from genai to stub.
func selectEmbedder(ctx context.Context, cfg config.Config) (llm.Embedder, error) {
	switch cfg.EmbedderMode {
	case "stub":
		log.Println("embedder: using deterministic stub vectors")
		return llm.NewStubEmbedder(), nil
	default:
		embedder, err := llm.NewGenAIEmbedder(ctx, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return embedder, nil
	}
}
