package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/arena/internal/api"
	"github.com/whisper/arena/internal/config"
	"github.com/whisper/arena/internal/logging"
	"github.com/whisper/arena/internal/matching"
	"github.com/whisper/arena/internal/messaging"
	"github.com/whisper/arena/internal/ratelimit"
	"github.com/whisper/arena/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.With("main")
	log.Info().Msg("starting arena matching service")

	// Postgres setup.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := storage.Open(ctx, storage.PoolConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	if cfg.Database.MigrateOnStart {
		if err := storage.Migrate(ctx, db); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
		log.Info().Msg("schema up to date")
	}
	cancel()

	// Redis setup. Without Redis the toggle limiter allows everything.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
		}
		cancel()
	}
	limiter := ratelimit.NewLimiter(rdb)

	// NATS setup. Without NATS match events are dropped.
	var (
		natsClient *messaging.NATSClient
		events     matching.Publisher = matching.NopPublisher{}
	)
	if cfg.NATS.Enabled {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsConfig.Name = cfg.NATS.Name

		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		events = matching.NewNATSPublisher(natsClient)
	}

	// Start matching service.
	svc := matching.NewService(db, events, matching.ServiceConfig{
		MatchInterval:    cfg.Matcher.Interval,
		JanitorInterval:  cfg.Janitor.Interval,
		MatchedRetention: cfg.Janitor.MatchedRetention,
	})
	svc.Start()

	router := api.NewRouter(svc, limiter, db, api.RouterConfig{
		CORSOrigins:  cfg.Server.CORSOrigins,
		IPLimit:      cfg.RateLimit.IPLimit,
		IPWindow:     cfg.RateLimit.IPWindow,
		QueryTimeout: cfg.Database.QueryTimeout,
		ToggleRule:   ratelimit.ToggleRule(cfg.RateLimit.ToggleLimit, cfg.RateLimit.ToggleWindow),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Bool("redis", cfg.Redis.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("arena matching service running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	svc.Stop()
	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
}
