package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/internal/auth"
	"github.com/seanblong/meetsearch/internal/cache"
	"github.com/seanblong/meetsearch/internal/config"
	"github.com/seanblong/meetsearch/internal/metrics"
	"github.com/seanblong/meetsearch/internal/search"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("meetsearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting meetsearch api")

	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if cfg.Auth.Enabled && cfg.Auth.JwtSecret == "" {
		log.Fatal("auth is enabled but no JWT secret is configured")
	}

	ctx := context.Background()
	recorder := metrics.New(nil)

	provider, err := ai.OpenProvider(cfg.ClientConfig())
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}

	opts := []ai.Option{ai.WithObserver(recorder.ObserveEmbedding)}
	if cfg.RedisURL != "" {
		vc, err := cache.NewVectorCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("query embedding cache unavailable, continuing without it")
		} else {
			defer func() { _ = vc.Close() }()
			opts = append(opts, ai.WithCache(vc))
		}
	}
	embedder := ai.NewEmbeddingClient(provider, cfg.EmbedderConfig(), opts...)

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	dim := ai.SchemaDim(provider, cfg.Dim)
	status := embedder.Status()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", status.Model).Bool("embedding_enabled", status.Enabled).Msg("embedding client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	engine := search.NewEngine(st, embedder, cfg.SearchConfig(), search.WithObserver(recorder))

	srv := &server{
		engine:   engine,
		meetings: st,
		db:       st,
		metrics:  recorder.Handler(),
		timeout:  30 * time.Second,
	}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(srv.routes()),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
