// Package config defines the server configuration structure.
package config

import (
	"errors"
	"net"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStore(&cfg.Store); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(cfg *ServerSection) error {
	if err := verifyAddr("server.redis.addr", cfg.Redis.Addr); err != nil {
		return err
	}
	if cfg.Redis.ReadTimeout < 0 || cfg.Redis.WriteTimeout < 0 || cfg.Redis.IdleTimeout < 0 {
		return errors.New("server.redis timeouts must not be negative")
	}
	if cfg.Redis.RateLimit < 0 {
		return errors.New("server.redis.rate_limit must not be negative")
	}
	if cfg.Admin.Enabled {
		if err := verifyAddr("server.admin.addr", cfg.Admin.Addr); err != nil {
			return err
		}
		if cfg.Admin.Addr == cfg.Redis.Addr {
			return errors.New("server.admin.addr conflicts with server.redis.addr")
		}
	}
	return nil
}

func verifyStore(cfg *StoreSection) error {
	if cfg.Shards < 1 {
		return errors.New("store.shards must be at least 1")
	}
	if cfg.Shards&(cfg.Shards-1) != 0 {
		return errors.New("store.shards must be a power of two")
	}
	if cfg.SweepInterval < 0 {
		return errors.New("store.sweep_interval must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("log.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		return errors.New("log.format must be json or text")
	}
	return nil
}

func verifyAddr(field, addr string) error {
	if addr == "" {
		return errors.New(field + " is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errors.New(field + " is not a valid host:port address: " + err.Error())
	}
	return nil
}
