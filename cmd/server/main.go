package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"promptlab/internal/api"
	"promptlab/internal/config"
	"promptlab/internal/crypto"
	"promptlab/internal/genai"
	"promptlab/internal/keygate"
	"promptlab/internal/playground"
	"promptlab/internal/queue"
	"promptlab/internal/storage"
	"promptlab/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("driver", cfg.DB.Driver).
		Str("listen_addr", cfg.Server.ListenAddr).
		Msg("starting promptlab")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.DB.Driver == "redis" || cfg.Rate.PerHour > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	var store storage.Store
	if cfg.DB.Driver == "redis" {
		store = storage.NewRedisStore(rdb, "")
	} else {
		store, err = storage.OpenSQL(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
	}
	defer store.Close()

	var limiter *queue.RateLimiter
	if cfg.Rate.PerHour > 0 {
		limiter = queue.NewRateLimiter(rdb, cfg.Rate.PerHour)
	}

	keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}

	client := genai.New(genai.Config{
		BaseURL:     cfg.GenAI.BaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	})

	session := playground.New(playground.Config{
		Store: store,
		Gate: keygate.New(keygate.Config{
			Client:         client,
			Store:          store,
			Keyring:        keyring,
			PreferredModel: cfg.GenAI.PreferredModel,
			Logger:         log.Logger,
		}),
		Templates: templates.Open(ctx, store, log.Logger),
		Streamer:  playground.GenAIStreamer{Client: client},
		Logger:    log.Logger,
	})
	if err := session.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("session restore failed")
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:    &api.Handlers{Session: session, Limiter: limiter, Logger: log.Logger},
		Logger:      log.Logger,
		HealthPath:  cfg.Server.HealthPath,
		MetricsPath: cfg.Server.MetricsPath,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	session.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
