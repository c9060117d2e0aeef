// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for redstore-server.
type ServerConfig struct {
	Server ServerSection `koanf:"server"`
	Store  StoreSection  `koanf:"store"`
	Log    LogSection    `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	Redis RedisConfig `koanf:"redis"`
	Admin AdminConfig `koanf:"admin"`
}

// RedisConfig configures the RESP protocol server.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`

	// RateLimit is the maximum commands per second per client IP.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
}

// AdminConfig configures the HTTP admin endpoint (health, metrics).
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// StoreSection configures the in-memory store.
type StoreSection struct {
	// Shards is the number of lock shards for the keyspace.
	// Must be a power of two.
	Shards int `koanf:"shards"`

	// SweepInterval is how often the expiry sweeper runs.
	// Zero disables the sweeper; expired keys are then removed lazily.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
