package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"playdeck/internal/api"
	"playdeck/internal/cache"
	"playdeck/internal/config"
	"playdeck/internal/downloads"
	"playdeck/internal/remote"
	"playdeck/internal/server"
	"playdeck/internal/session"
	"playdeck/internal/source"
	"playdeck/internal/storage"
	"playdeck/internal/transfer"
	"playdeck/internal/trickplay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("loading config")
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", api.Version).Msg("playdeck starting")

	for _, dir := range []string{cfg.Downloads.Dir, cfg.Trickplay.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("creating data directory")
		}
	}

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening database")
	}
	defer store.Close()

	gateway := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.DeviceID, cfg.Remote.RequestTimeout, logger)
	transfers := transfer.NewHTTPManager(cfg.Downloads.Concurrency, logger)
	tileCache := cache.NewLRU(cfg.Trickplay.CacheCapacity, cfg.Trickplay.CacheMaxSize)
	tiles := trickplay.NewService(gateway, tileCache, cfg.Trickplay.Dir, logger)

	resolver := source.NewResolver(store, gateway, logger)
	builder := source.NewQueueBuilder(store, gateway, resolver, logger)
	coord := downloads.NewCoordinator(store, gateway, transfers, tiles, cfg.Downloads.Dir, logger)

	factory, err := session.NewBackendFactory(cfg.Playback, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuring playback backend")
	}
	sessions := session.NewManager(cfg.Playback, factory, gateway, store, tiles, builder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Watch(ctx, cfg.Downloads.PollInterval)

	srv := server.New(cfg.Server, api.NewHandlers(resolver, coord, sessions, tiles, logger), logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sessions.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
