package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/internal/config"
	"github.com/seanblong/meetsearch/internal/indexer"
	"github.com/seanblong/meetsearch/internal/metrics"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("meetsearch-indexer", pflag.ExitOnError)
	metricsFile := fs.String("metrics-file", "", "Write indexing metrics to this file in Prometheus text format")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.New(nil)

	provider, err := ai.OpenProvider(cfg.ClientConfig())
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}
	embedder := ai.NewEmbeddingClient(provider, cfg.EmbedderConfig(), ai.WithObserver(recorder.ObserveEmbedding))

	dim := ai.SchemaDim(provider, cfg.Dim)
	zlog.Info().Str("provider", embedder.Status().Provider).Int("embedding_dim", dim).Str("root", cfg.TranscriptRoot).Msg("using provider")

	// Initialize store
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatal(err)
	}

	var batch indexer.BatchEmbedder
	if embedder.Enabled() {
		batch = embedder
	}
	ix := indexer.New(st, cfg.TranscriptRoot, batch)
	ix.OnSegment = recorder.ObserveIndexed

	stats, err := ix.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, recorder.Registry()); err != nil {
			zlog.Error().Err(err).Str("path", *metricsFile).Msg("failed to write metrics")
		}
	}

	if stats.Failed > 0 {
		zlog.Warn().Int64("failed", stats.Failed).Msg("some transcripts could not be indexed")
		st.Close()
		stop()
		os.Exit(1)
	}
}
