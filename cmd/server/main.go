package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/config"
	"materialpos/backend/internal/httpapi"
	"materialpos/backend/internal/logger"
	"materialpos/backend/internal/service"
	"materialpos/backend/internal/snapshot"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/store/memory"
	pgstore "materialpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		lg.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("repository unavailable", zap.Error(err))
	}

	sink, err := openBackupSink(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("backup storage unavailable", zap.Error(err))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, lg.Named("auth"))
	svc := service.New(repo,
		service.WithPermissionRules(cfg.Permissions),
		service.WithCredentialVerifier(auth),
		service.WithBackupSink(sink),
		service.WithLogger(lg.Named("service")),
	)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, lg.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		lg.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			lg.Warn("close error", zap.Error(err))
		}
	}

	lg.Info("server stopped")
}

// openRepository picks Postgres when DATABASE_URL is set and otherwise the
// seeded in-memory store, snapshotted to Redis when REDIS_ADDR is set.
func openRepository(ctx context.Context, cfg config.Config, lg *zap.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, lg.Named("postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		if err := pg.Migrate(lg.Named("migrate")); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		lg.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	}

	var closers []func() error
	persister := snapshot.Persister(snapshot.NoopPersister{})
	if cfg.RedisAddr != "" {
		redis := snapshot.NewRedisPersister(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SnapshotPrefix)
		if err := redis.Ping(ctx); err != nil {
			lg.Warn("redis unavailable, running without snapshots", zap.Error(err))
			_ = redis.Close()
		} else {
			persister = redis
			closers = append(closers, redis.Close)
			lg.Info("snapshots: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	mem := memory.NewSeeded(memory.WithPersister(persister), memory.WithLogger(lg.Named("memory")))
	if err := mem.Hydrate(ctx); err != nil {
		lg.Warn("snapshot hydrate failed, starting from seed data", zap.Error(err))
	}
	lg.Info("repository: in-memory")
	return mem, closers, nil
}

func openBackupSink(ctx context.Context, cfg config.Config, lg *zap.Logger) (backup.Sink, error) {
	if cfg.S3.Enabled() {
		sink, err := backup.NewS3Sink(ctx, cfg.S3, lg.Named("s3"))
		if err != nil {
			return nil, err
		}
		lg.Info("backups: s3", zap.String("bucket", cfg.S3.Bucket))
		return sink, nil
	}
	sink, err := backup.NewFileSink(cfg.BackupDir)
	if err != nil {
		return nil, err
	}
	lg.Info("backups: directory", zap.String("dir", cfg.BackupDir))
	return sink, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() {
		if strings.TrimSpace(cfg.AllowedOrigin) == "*" {
			return fmt.Errorf("ALLOWED_ORIGIN must name the front-end origin in production")
		}
		for _, key := range []string{"SEED_OWNER_PASSWORD", "SEED_SUPERVISOR_PASSWORD", "SEED_CASHIER_PASSWORD"} {
			if cfg.DatabaseURL == "" && os.Getenv(key) == "" {
				return fmt.Errorf("%s must be set in production when running on the in-memory store", key)
			}
		}
	}
	return nil
}
