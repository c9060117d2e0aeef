// Package main provides the entry point for redstore-server.
//
// redstore-server is an in-memory key-value server speaking the Redis
// RESP protocol, with optional key expiry and an HTTP admin endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/yxlane/redstore-go/internal/infra/buildinfo"
	"github.com/yxlane/redstore-go/internal/infra/confloader"
	"github.com/yxlane/redstore-go/internal/infra/shutdown"
	"github.com/yxlane/redstore-go/internal/server/adminserver"
	"github.com/yxlane/redstore-go/internal/server/config"
	"github.com/yxlane/redstore-go/internal/server/redisserver"
	"github.com/yxlane/redstore-go/internal/storage/memory"
	"github.com/yxlane/redstore-go/internal/telemetry/logger"
	"github.com/yxlane/redstore-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("redstore-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	log.Info("starting redstore-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile)

	metrics := metric.NewRegistry()

	store := memory.New(
		memory.WithShardCount(cfg.Store.Shards),
		memory.WithSweepInterval(cfg.Store.SweepInterval),
		memory.WithEvictionHook(func(n int) {
			metrics.KeysExpired.Add(float64(n))
		}),
	)
	metrics.RegisterKeysGauge(func() float64 {
		return float64(store.Len())
	})

	handler := redisserver.NewCommandHandler(store, metrics, log)
	redisSrv := redisserver.New(&redisserver.Config{
		Address:      cfg.Server.Redis.Addr,
		ReadTimeout:  cfg.Server.Redis.ReadTimeout,
		WriteTimeout: cfg.Server.Redis.WriteTimeout,
		IdleTimeout:  cfg.Server.Redis.IdleTimeout,
		RateLimit:    cfg.Server.Redis.RateLimit,
	}, handler, metrics, log)

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	if err := redisSrv.Start(context.Background()); err != nil {
		return fmt.Errorf("start redis server: %w", err)
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down redis server")
		return redisSrv.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping store sweeper")
		store.Close()
		return nil
	})

	if cfg.Server.Admin.Enabled {
		adminSrv := adminserver.New(cfg.Server.Admin.Addr, metrics, log)
		if err := adminSrv.Start(); err != nil {
			return fmt.Errorf("start admin server: %w", err)
		}
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down admin server")
			return adminSrv.Shutdown(ctx)
		})
	}

	if *configFile != "" {
		if err := watchConfig(*configFile, log, shutdownHandler); err != nil {
			// Live reload is best-effort; the server keeps running.
			log.Warn("config watcher unavailable", "error", err)
		}
	}

	log.Info("redstore-server started", "redis_addr", cfg.Server.Redis.Addr)
	return shutdownHandler.Wait()
}

func loadConfig(path string) (*config.ServerConfig, error) {
	cfg := config.Default()

	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watchConfig reloads the log level when the config file changes. Other
// settings require a restart.
func watchConfig(path string, log *slog.Logger, sh *shutdown.Handler) error {
	watcher, err := confloader.NewWatcher(log)
	if err != nil {
		return err
	}

	watcher.OnChange(func(changed string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload failed", "file", changed, "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level reloaded", "level", cfg.Log.Level)
	})

	if err := watcher.Watch(path); err != nil {
		_ = watcher.Stop()
		return err
	}
	watcher.Start()

	sh.OnShutdown(func(context.Context) error {
		return watcher.Stop()
	})
	return nil
}
