package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"slateboard/core/internal/app"
	"slateboard/core/internal/broadcast"
	"slateboard/core/internal/config"
	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/room"
	"slateboard/core/internal/shape"
	"slateboard/core/internal/snapshot"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		cancel()
		defer redisClient.Close()
	}

	// Room metadata backend: Postgres when configured, Redis otherwise.
	var remote permission.Remote
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		logger.Info("using Postgres for room metadata")
		db, err := room.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		pg := room.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		remote = pg
	case redisClient != nil:
		logger.Info("using Redis for room metadata")
		remote = room.NewRedisStoreWithClient(redisClient)
	default:
		logger.Fatal("no room metadata backend configured (set DATABASE_URL or REDIS_URL)")
	}

	// Broadcast transports: the in-process bus always; the Redis slot
	// and channel when Redis is available. Redundancy is the point.
	transports := []broadcast.Transport{broadcast.NewBus()}
	if redisClient != nil {
		transports = append(transports,
			broadcast.NewRedisSlot(redisClient, cfg.SlotPollInterval, logger),
			broadcast.NewRedisChannel(redisClient, logger),
		)
	}
	broadcaster := broadcast.New(logger, transports...)
	defer broadcaster.Close()

	var snaps snapshot.Publisher
	if strings.TrimSpace(cfg.SnapshotEndpoint) != "" {
		publisher, err := snapshot.NewMinioPublisher(
			cfg.SnapshotEndpoint, cfg.SnapshotAccessKey, cfg.SnapshotSecretKey,
			cfg.SnapshotBucket, cfg.SnapshotUseSSL)
		if err != nil {
			logger.Fatal("snapshot storage setup failed", zap.Error(err))
		}
		if err := publisher.EnsureBucket(ctx); err != nil {
			logger.Fatal("snapshot bucket setup failed", zap.Error(err))
		}
		snaps = publisher
	}

	content := shape.NewMemoryStore()
	service := app.New(cfg, logger, remote, content, broadcaster, snaps)

	reconcileCtx, stopReconcile := context.WithCancel(ctx)
	defer stopReconcile()
	go service.StartReconciler(reconcileCtx)

	verifier := identity.NewVerifier([]byte(cfg.AuthSecret))
	httpServer := app.NewHTTPServer(service, verifier, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("slateboard permission core listening",
			zap.String("addr", cfg.Addr), zap.String("source", service.Source()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
