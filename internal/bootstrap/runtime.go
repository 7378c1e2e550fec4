// Package bootstrap wires the process-wide dependencies shared by the commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runnersmap/internal/cache"
	"runnersmap/internal/config"
	"runnersmap/internal/database"
	"runnersmap/internal/middleware"
	"runnersmap/internal/observability"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ServiceName labels traces emitted by this process.
	ServiceName string
	// SkipSchema leaves migrations to cmd/migrate.
	SkipSchema bool
}

// Runtime holds what InitRuntime connected.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Location *time.Location

	shutdownTracing func(context.Context) error
}

// InitRuntime connects to DB and Redis and installs the tracer. Redis is
// optional: an unreachable server leaves Redis nil.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	loc, err := cfg.RankLocation()
	if err != nil {
		return nil, fmt.Errorf("rank timezone: %w", err)
	}

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    opts.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		RankTimezone:   loc.String(),
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: !opts.SkipSchema})
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()
	if rdb == nil {
		middleware.Logger.Warn("running without redis: caching, live locations and run locks are disabled")
	}

	return &Runtime{
		Config:          cfg,
		DB:              db,
		Redis:           rdb,
		Location:        loc,
		shutdownTracing: shutdown,
	}, nil
}

// Close flushes traces and releases the database and Redis pools.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.shutdownTracing != nil {
		errs = append(errs, r.shutdownTracing(ctx))
	}
	errs = append(errs, database.Close())
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		middleware.Logger.Error("runtime shutdown", slog.String("error", err.Error()))
	}
	return err
}
