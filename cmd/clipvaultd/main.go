// Package main provides the entry point for the clipvault semantic
// search daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clipvault/semantic/internal/acquisition"
	"github.com/clipvault/semantic/internal/config"
	"github.com/clipvault/semantic/internal/db/sqlite"
	"github.com/clipvault/semantic/internal/embedstore"
	"github.com/clipvault/semantic/internal/embedding"
	"github.com/clipvault/semantic/internal/history"
	"github.com/clipvault/semantic/internal/httpapi"
	"github.com/clipvault/semantic/internal/indexer"
	"github.com/clipvault/semantic/internal/orchestrator"
	"github.com/clipvault/semantic/internal/vectorindex"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Msg("starting clipvaultd")

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare data directory")
	}
	cfg := config.Get()

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("clipvaultd exited with error")
	}
}

func run(cfg *config.Config) error {
	db, err := sqlite.NewStore(sqlite.StoreConfig{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := embedstore.New(db, cfg.EmbeddingDim, log.Logger)
	index := vectorindex.NewSynced(vectorindex.New(cfg.EmbeddingDim, cfg.IndexCapacity, float32(cfg.SearchThreshold)))
	hist := history.NewSQLiteProvider(db)

	host := embedding.NewHost(embedding.Config{
		ModelPath: config.ModelPath(),
		DimNative: cfg.EmbeddingDimNative,
		Dim:       cfg.EmbeddingDim,
		MaxTokens: cfg.MaxTokens,
		EpsNorm:   cfg.EpsNorm,
		EpsZero:   cfg.EpsZero,
	}, log.Logger)

	downloader := acquisition.New(acquisition.Config{
		URL:          cfg.ModelURL,
		TargetPath:   config.ModelPath(),
		Filename:     config.ModelFileName,
		MinModelSize: cfg.MinModelSize,
		GGUFMagic:    []byte("GGUF"),
	}, log.Logger)

	worker := indexer.New(hist, store, host, index, indexer.Config{
		Dim:       cfg.EmbeddingDim,
		BatchSize: cfg.BatchSize,
	}, log.Logger)

	orch := orchestrator.New(host, index, store, downloader, worker, hist, orchestrator.Config{
		Enabled:   cfg.SemanticSearchEnabled,
		Threshold: float32(cfg.SearchThreshold),
	}, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Rehydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("rehydration failed, starting with an empty vector index")
	}
	orch.Start(ctx)

	srv, err := httpapi.New(orch, httpapi.Config{RequireToken: false}, log.Logger)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}
	srv.Start(fmt.Sprintf(":%d", cfg.DaemonPort))

	log.Info().Int("port", cfg.DaemonPort).Msg("clipvaultd ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	log.Info().Msg("clipvaultd shutdown complete")
	return nil
}
