// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultRedisAddr = "127.0.0.1:6379"
	DefaultAdminAddr = "127.0.0.1:9121"

	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultRateLimit    = 1000

	DefaultShards        = 16
	DefaultSweepInterval = 100 * time.Millisecond

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Redis: RedisConfig{
				Addr:         DefaultRedisAddr,
				ReadTimeout:  DefaultReadTimeout,
				WriteTimeout: DefaultWriteTimeout,
				IdleTimeout:  DefaultIdleTimeout,
				RateLimit:    DefaultRateLimit,
			},
			Admin: AdminConfig{
				Enabled: false,
				Addr:    DefaultAdminAddr,
			},
		},
		Store: StoreSection{
			Shards:        DefaultShards,
			SweepInterval: DefaultSweepInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
